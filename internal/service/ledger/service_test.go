package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/repository/memstore"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type captureSink struct {
	mu     sync.Mutex
	events []model.UsageEvent
}

func (c *captureSink) Record(e model.UsageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newLedger(t *testing.T) (*Service, *memstore.Store, *captureSink) {
	t.Helper()
	st := memstore.New()
	sink := &captureSink{}
	svc := New(st.Tokens(), st.Orders(), st.Outbox(), st.Usage(), sink, auth.NewPolicy(), zap.NewNop())
	return svc, st, sink
}

func putToken(st *memstore.Store, id, secret string, requests int, expiresAt *time.Time) {
	st.PutToken(model.Token{
		ID:          id,
		UserID:      "user-1",
		OrderID:     "order-" + id,
		Secret:      secret,
		Requests:    requests,
		MaxRequests: 10,
		Active:      true,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	})
}

// Scenario B
func TestLastRequestRaceHasOneWinner(t *testing.T) {
	svc, st, _ := newLedger(t)
	putToken(st, "t1", "secret-1", 1, nil)

	results := make(chan model.Redemption, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			red, err := svc.Redeem(context.Background(), "secret-1", "", "")
			if err != nil {
				t.Errorf("redeem: %v", err)
			}
			results <- red
		}()
	}
	wg.Wait()
	close(results)

	var ok, exhausted int
	for r := range results {
		switch r.Outcome {
		case model.OutcomeOK:
			ok++
			if r.Remaining != 0 {
				t.Fatalf("winner should see 0 remaining, got %d", r.Remaining)
			}
		case model.OutcomeExhausted:
			exhausted++
		}
	}
	if ok != 1 || exhausted != 1 {
		t.Fatalf("expected one ok and one exhausted, got %d/%d", ok, exhausted)
	}
}

func TestConcurrentRedeemNeverOverspends(t *testing.T) {
	svc, st, sink := newLedger(t)
	const quota, callers = 7, 40
	putToken(st, "t1", "secret-1", quota, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			red, err := svc.Redeem(context.Background(), "secret-1", "10.0.0.1", "ua")
			if err != nil {
				t.Errorf("redeem: %v", err)
				return
			}
			if red.Outcome.OK() {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != quota {
		t.Fatalf("expected %d successes, got %d", quota, successes)
	}
	tok, _ := st.Tokens().GetByID(context.Background(), "t1")
	if tok.Requests != 0 {
		t.Fatalf("expected quota drained to 0, got %d", tok.Requests)
	}
	if sink.len() != quota {
		t.Fatalf("expected one usage event per success, got %d", sink.len())
	}
}

func TestRedeemOutcomes(t *testing.T) {
	svc, st, sink := newLedger(t)
	past := time.Now().Add(-time.Hour)

	putToken(st, "expired", "s-expired", 4, &past)
	putToken(st, "drained-and-expired", "s-drained", 0, &past)
	st.PutToken(model.Token{ID: "off", Secret: "s-off", Requests: 5, MaxRequests: 5, Active: false})

	cases := map[string]model.Outcome{
		"":          model.OutcomeInvalidToken,
		"unknown":   model.OutcomeInvalidToken,
		"s-expired": model.OutcomeExpired,
		"s-drained": model.OutcomeExhausted,
		"s-off":     model.OutcomeInactive,
	}
	for secret, want := range cases {
		red, err := svc.Redeem(context.Background(), secret, "", "")
		if err != nil {
			t.Fatalf("%q: %v", secret, err)
		}
		if red.Outcome != want {
			t.Fatalf("%q: expected %s, got %s", secret, want, red.Outcome)
		}
	}

	tok, _ := st.Tokens().GetByID(context.Background(), "expired")
	if tok.Requests != 4 || tok.LastUsedAt != nil {
		t.Fatalf("failed redemption must not touch the token: %+v", tok)
	}
	if sink.len() != 0 {
		t.Fatalf("failed redemptions must not be audited")
	}
}

func TestValidateIsReadOnly(t *testing.T) {
	svc, st, _ := newLedger(t)
	future := time.Now().Add(time.Hour)
	putToken(st, "t1", "secret-1", 5, &future)

	v, err := svc.Validate(context.Background(), "secret-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.Valid || *v.RemainingRequests != 5 || *v.MaxRequests != 10 || v.ExpiresAt == nil {
		t.Fatalf("unexpected validation %+v", v)
	}
	tok, _ := st.Tokens().GetByID(context.Background(), "t1")
	if tok.Requests != 5 {
		t.Fatalf("validate must not consume, got %d", tok.Requests)
	}

	v, _ = svc.Validate(context.Background(), "nope")
	if v.Valid || v.Error != "Invalid token" || v.RemainingRequests != nil {
		t.Fatalf("unexpected validation for unknown token %+v", v)
	}
	if _, err := svc.Validate(context.Background(), " "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty token, got %v", err)
	}

	putToken(st, "t2", "spent", 0, &future)
	v, _ = svc.Validate(context.Background(), "spent")
	if v.Valid || v.Error != "No remaining requests" {
		t.Fatalf("unexpected validation for exhausted token %+v", v)
	}
}

type collidingSecrets struct {
	n int
}

func (c *collidingSecrets) next() (string, error) {
	c.n++
	if c.n <= 2 {
		return "taken", nil
	}
	return "fresh", nil
}

func TestIssueRegeneratesCollidingSecret(t *testing.T) {
	svc, st, _ := newLedger(t)
	putToken(st, "existing", "taken", 1, nil)
	gen := &collidingSecrets{}
	svc.newSecret = gen.next

	order := &model.Order{ID: "o1", UserID: "user-1", Status: model.OrderConfirmed, Requests: 5}
	var tok *model.Token
	err := st.InTx(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		tok, err = svc.IssueTx(context.Background(), tx, order)
		return err
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Secret != "fresh" || gen.n != 3 {
		t.Fatalf("expected third secret to be used, got %q after %d", tok.Secret, gen.n)
	}
}

func TestIssueGivesUpAfterRepeatedCollisions(t *testing.T) {
	svc, st, _ := newLedger(t)
	putToken(st, "existing", "taken", 1, nil)
	svc.newSecret = func() (string, error) { return "taken", nil }

	order := &model.Order{ID: "o1", UserID: "user-1", Status: model.OrderConfirmed, Requests: 5}
	err := st.InTx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := svc.IssueTx(context.Background(), tx, order)
		return err
	})
	if !errors.Is(err, repository.ErrDuplicateSecret) {
		t.Fatalf("expected duplicate secret error, got %v", err)
	}
	if n := len(st.OutboxEvents()); n != 0 {
		t.Fatalf("failed issue must not leave outbox rows, got %d", n)
	}
}

func TestStatsOwnership(t *testing.T) {
	svc, st, _ := newLedger(t)
	ctx := context.Background()
	putToken(st, "t1", "secret-1", 3, nil)
	st.PutOrder(model.Order{ID: "order-t1", UserID: "user-1", TierName: "Starter"})
	_ = st.Usage().InsertBatch(ctx, []model.UsageEvent{{ID: "u1", TokenID: "t1"}, {ID: "u2", TokenID: "t1"}})

	owner := auth.Actor{UserID: "user-1", Role: auth.RoleUser}
	stats, err := svc.Stats(ctx, owner, "t1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TierName != "Starter" || stats.UsageCount != 2 || len(stats.RecentUsage) != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, err := svc.Stats(ctx, auth.Actor{UserID: "user-9", Role: auth.RoleUser}, "t1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Stats(ctx, auth.Actor{UserID: "a", Role: auth.RoleAdmin}, "t1"); err != nil {
		t.Fatalf("admin stats: %v", err)
	}
	if _, err := svc.Stats(ctx, owner, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatsSurvivesAuditOutage(t *testing.T) {
	svc, st, _ := newLedger(t)
	putToken(st, "t1", "secret-1", 3, nil)
	st.UsageErr = errors.New("clickhouse down")

	stats, err := svc.Stats(context.Background(), auth.Actor{UserID: "user-1", Role: auth.RoleUser}, "t1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.UsageCount != 0 || stats.RecentUsage == nil {
		t.Fatalf("expected empty usage, got %+v", stats)
	}
}
