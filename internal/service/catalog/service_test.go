package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/repository/memstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newCatalog(t *testing.T) (*Service, *memstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memstore.New()
	svc := New(st.Tiers(), repository.NewRedisTierCache(rdb), time.Minute, zap.NewNop())
	if err := svc.Seed(context.Background(), DefaultTiers()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, st, mr
}

func TestListActiveSortedByPrice(t *testing.T) {
	svc, _, _ := newCatalog(t)

	tiers, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(tiers))
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].Price > tiers[i].Price {
			t.Fatalf("tiers not sorted by price: %v", tiers)
		}
	}
	if tiers[0].Name != "Starter" || tiers[0].Requests != 100 || tiers[0].Duration != 30 {
		t.Fatalf("unexpected starter tier %+v", tiers[0])
	}
}

func TestListActiveServesFromCache(t *testing.T) {
	svc, st, mr := newCatalog(t)
	ctx := context.Background()

	if _, err := svc.ListActive(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if !mr.Exists("tiers:active") {
		t.Fatalf("expected cache to be populated")
	}

	_ = st.Tiers().Upsert(ctx, model.Tier{ID: "x", Name: "Budget", Price: 1, Requests: 1, Active: true})
	tiers, _ := svc.ListActive(ctx)
	if len(tiers) != 3 {
		t.Fatalf("expected cached list of 3, got %d", len(tiers))
	}

	mr.FastForward(2 * time.Minute)
	tiers, _ = svc.ListActive(ctx)
	if len(tiers) != 4 || tiers[0].Name != "Budget" {
		t.Fatalf("expected refreshed list after ttl, got %v", tiers)
	}
}

func TestListActiveFallsBackWhenRedisDown(t *testing.T) {
	svc, _, mr := newCatalog(t)
	mr.Close()

	tiers, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("expected database fallback, got %v", err)
	}
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(tiers))
	}
}

func TestGet(t *testing.T) {
	svc, _, _ := newCatalog(t)
	ctx := context.Background()

	tiers, _ := svc.ListActive(ctx)
	got, err := svc.Get(ctx, tiers[0].ID)
	if err != nil || got.ID != tiers[0].ID {
		t.Fatalf("get: %v %v", got, err)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, _, _ := newCatalog(t)
	ctx := context.Background()
	if err := svc.Seed(ctx, DefaultTiers()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	tiers, _ := svc.ListActive(ctx)
	if len(tiers) != 3 {
		t.Fatalf("expected reseed to keep 3 tiers, got %d", len(tiers))
	}
}
