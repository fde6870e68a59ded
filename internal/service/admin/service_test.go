package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository/memstore"
	"github.com/jmehdipour/tokengen/internal/service/ledger"
	"github.com/jmehdipour/tokengen/internal/service/orders"
	"go.uber.org/zap"
)

type nopSink struct{}

func (nopSink) Record(model.UsageEvent) {}

var (
	admin = auth.Actor{UserID: "admin-1", Role: auth.RoleAdmin}
	user  = auth.Actor{UserID: "user-1", Role: auth.RoleUser}
)

func newAdmin(t *testing.T) (*Service, *orders.Service) {
	t.Helper()
	st := memstore.New()
	policy := auth.NewPolicy()
	log := zap.NewNop()
	_ = st.Tiers().Upsert(context.Background(), model.Tier{ID: "tier-1", Name: "Starter", Price: 50000, Requests: 100, Duration: 30, Active: true})

	led := ledger.New(st.Tokens(), st.Orders(), st.Outbox(), st.Usage(), nopSink{}, policy, log)
	flow := orders.New(st, st.Orders(), st.Tiers(), st.Tokens(), led, policy, []string{"i.ibb.co"}, log)
	return New(st.Orders(), flow, policy), flow
}

func TestEveryOperationRequiresAdmin(t *testing.T) {
	svc, _ := newAdmin(t)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["list"] = svc.ListOrders(ctx, user, "", 0, 0)
	_, checks["confirm"] = svc.Confirm(ctx, user, "o1")
	_, checks["reject"] = svc.Reject(ctx, user, "o1", "no")
	_, checks["issue"] = svc.RetryIssue(ctx, user, "o1")
	_, checks["stats"] = svc.Stats(ctx, user)
	for name, err := range checks {
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("%s: expected forbidden, got %v", name, err)
		}
	}

	if _, err := svc.Stats(ctx, auth.Actor{}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for anonymous caller, got %v", err)
	}
}

func TestListFilterAndStats(t *testing.T) {
	svc, flow := newAdmin(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		o, err := flow.Create(ctx, user, orders.CreateInput{TierID: "tier-1", WhatsappNumber: "081234567890"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, o.ID)
	}
	if _, err := svc.Confirm(ctx, admin, ids[0]); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Reject(ctx, admin, ids[1], "blurry proof"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	pending, err := svc.ListOrders(ctx, admin, "pending", 0, 0)
	if err != nil || len(pending) != 1 || pending[0].ID != ids[2] {
		t.Fatalf("expected the one pending order, got %v %v", pending, err)
	}
	all, _ := svc.ListOrders(ctx, admin, "", 0, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}
	if _, err := svc.ListOrders(ctx, admin, "paid", 0, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	st, err := svc.Stats(ctx, admin)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := model.OrderStats{TotalOrders: 3, PendingOrders: 1, ConfirmedOrders: 1, TotalRevenue: 50000, ActiveTokens: 1}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestStatsCountsActiveFlag(t *testing.T) {
	st := memstore.New()
	svc := New(st.Orders(), nil, auth.NewPolicy())

	past := time.Now().Add(-time.Hour)
	st.PutToken(model.Token{ID: "t1", Secret: "live", Requests: 5, MaxRequests: 5, Active: true})
	st.PutToken(model.Token{ID: "t2", Secret: "expired", Requests: 5, MaxRequests: 5, Active: true, ExpiresAt: &past})
	st.PutToken(model.Token{ID: "t3", Secret: "spent", Requests: 0, MaxRequests: 5, Active: true})
	st.PutToken(model.Token{ID: "t4", Secret: "off", Requests: 5, MaxRequests: 5, Active: false})

	got, err := svc.Stats(context.Background(), admin)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got.ActiveTokens != 3 {
		t.Fatalf("expected 3 tokens with the active flag set, got %d", got.ActiveTokens)
	}
	if err := svc.Authorize(user); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	if err := svc.Authorize(admin); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}
