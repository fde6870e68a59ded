// Package memstore is an in-process implementation of the repository
// interfaces. It keeps the same guard semantics as the MySQL queries and is
// used by service and handler tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmoiron/sqlx"
)

type Store struct {
	txMu sync.Mutex // serializes InTx callers
	mu   sync.Mutex

	tiers         map[string]model.Tier
	orders        map[string]model.Order
	tokens        map[string]model.Token
	outbox        []model.OutboxEvent
	notifications map[string]model.TokenNotification
	usage         []model.UsageEvent

	// UsageErr, when set, is returned by every usage call.
	UsageErr error
}

func New() *Store {
	return &Store{
		tiers:         map[string]model.Tier{},
		orders:        map[string]model.Order{},
		tokens:        map[string]model.Token{},
		notifications: map[string]model.TokenNotification{},
	}
}

func (s *Store) Tiers() repository.TiersRepository                 { return tiersRepo{s} }
func (s *Store) Orders() repository.OrdersRepository               { return ordersRepo{s} }
func (s *Store) Tokens() repository.TokensRepository               { return tokensRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository               { return outboxRepo{s} }
func (s *Store) Notifications() repository.NotificationsRepository { return notificationsRepo{s} }
func (s *Store) Usage() repository.UsageRepository                 { return usageRepo{s} }

// InTx runs fn with a nil tx. Writes made by fn are undone if it fails.
// Non-transactional writes that interleave with a failing fn are lost.
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	orders := cloneMap(s.orders)
	tokens := cloneMap(s.tokens)
	outbox := append([]model.OutboxEvent(nil), s.outbox...)
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.orders, s.tokens, s.outbox = orders, tokens, outbox
		s.mu.Unlock()
		return err
	}
	return nil
}

var _ repository.TxRunner = (*Store)(nil)

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// OutboxEvents returns a copy of every outbox row.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.outbox...)
}

// UsageEvents returns a copy of the recorded audit rows.
func (s *Store) UsageEvents() []model.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UsageEvent(nil), s.usage...)
}

// PutToken stores t as is, for tests that need tokens in unusual states.
func (s *Store) PutToken(t model.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = t
}

// PutOrder stores o as is.
func (s *Store) PutOrder(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Store) Notification(tokenID string) (model.TokenNotification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[tokenID]
	return n, ok
}

// ---- tiers ----

type tiersRepo struct{ s *Store }

func (r tiersRepo) ListActive(ctx context.Context) ([]model.Tier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Tier
	for _, t := range r.s.tiers {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r tiersRepo) Get(ctx context.Context, id string) (*model.Tier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tiers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r tiersRepo) Upsert(ctx context.Context, t model.Tier) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.tiers {
		if existing.Name == t.Name {
			t.ID = id
			t.CreatedAt = existing.CreatedAt
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	r.s.tiers[t.ID] = t
	return nil
}

// ---- orders ----

type ordersRepo struct{ s *Store }

func (r ordersRepo) Create(ctx context.Context, o model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[o.ID] = o
	return nil
}

func (r ordersRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func sortOrders(out []model.Order) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
}

func (r ordersRepo) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (r ordersRepo) List(ctx context.Context, f repository.OrderFilter) ([]model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Order
	for _, o := range r.s.orders {
		if f.Status == "" || o.Status == f.Status {
			out = append(out, o)
		}
	}
	sortOrders(out)
	if f.Limit > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		end := f.Offset + f.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[f.Offset:end]
	}
	return out, nil
}

func statusIn(s model.OrderStatus, from []model.OrderStatus) bool {
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}

func (r ordersRepo) Transition(ctx context.Context, tx *sqlx.Tx, id string, c repository.StatusChange) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || !statusIn(o.Status, c.From) {
		return false, nil
	}
	o.Status = c.To
	o.UpdatedAt = c.At
	switch c.To {
	case model.OrderRejected:
		o.RejectedReason = c.RejectedReason
	case model.OrderConfirmed:
		by, at := c.ConfirmedBy, c.At
		o.ConfirmedBy, o.ConfirmedAt = &by, &at
	}
	if c.ClearProof {
		o.PaymentProof, o.RejectedReason = nil, nil
	}
	r.s.orders[id] = o
	return true, nil
}

func (r ordersRepo) SetProof(ctx context.Context, id string, proof *string, from []model.OrderStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || !statusIn(o.Status, from) {
		return false, nil
	}
	o.PaymentProof = proof
	o.UpdatedAt = at
	r.s.orders[id] = o
	return true, nil
}

func (r ordersRepo) Stats(ctx context.Context) (model.OrderStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var st model.OrderStats
	for _, o := range r.s.orders {
		st.TotalOrders++
		switch o.Status {
		case model.OrderPending:
			st.PendingOrders++
		case model.OrderConfirmed:
			st.ConfirmedOrders++
			st.TotalRevenue += o.TotalPrice
		}
	}
	for _, t := range r.s.tokens {
		if t.Active {
			st.ActiveTokens++
		}
	}
	return st, nil
}

// ---- tokens ----

type tokensRepo struct{ s *Store }

func (r tokensRepo) Insert(ctx context.Context, tx *sqlx.Tx, t model.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tokens {
		if existing.OrderID == t.OrderID {
			return repository.ErrTokenExists
		}
		if existing.Secret == t.Secret {
			return repository.ErrDuplicateSecret
		}
	}
	r.s.tokens[t.ID] = t
	return nil
}

func (r tokensRepo) find(match func(model.Token) bool) *model.Token {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if match(t) {
			return &t
		}
	}
	return nil
}

func (r tokensRepo) GetByID(ctx context.Context, id string) (*model.Token, error) {
	return r.find(func(t model.Token) bool { return t.ID == id }), nil
}

func (r tokensRepo) GetBySecret(ctx context.Context, secret string) (*model.Token, error) {
	return r.find(func(t model.Token) bool { return t.Secret == secret }), nil
}

func (r tokensRepo) GetByOrderID(ctx context.Context, tx *sqlx.Tx, orderID string) (*model.Token, error) {
	return r.find(func(t model.Token) bool { return t.OrderID == orderID }), nil
}

func (r tokensRepo) ListByUser(ctx context.Context, userID string) ([]model.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Token
	for _, t := range r.s.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r tokensRepo) Consume(ctx context.Context, secret string, now time.Time) (model.Redemption, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var red model.Redemption
	for id, t := range r.s.tokens {
		if t.Secret != secret {
			continue
		}
		red.TokenID, red.UserID = t.ID, t.UserID
		if red.Outcome = model.Classify(&t, now); !red.Outcome.OK() {
			return red, nil
		}
		t.Requests--
		used := now
		t.LastUsedAt = &used
		r.s.tokens[id] = t
		red.Remaining = t.Requests
		return red, nil
	}
	red.Outcome = model.OutcomeInvalidToken
	return red, nil
}

// ---- outbox ----

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	r.s.outbox = append(r.s.outbox, model.OutboxEvent{
		ID:          int64(len(r.s.outbox) + 1),
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		Topic:       topic,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return nil
}

func (r outboxRepo) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range r.s.outbox {
		if e.PublishedAt == nil && e.Attempts < maxAttempts {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r outboxRepo) update(ids []int64, fn func(*model.OutboxEvent)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range r.s.outbox {
		if want[r.s.outbox[i].ID] {
			fn(&r.s.outbox[i])
		}
	}
}

func (r outboxRepo) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	r.update(ids, func(e *model.OutboxEvent) {
		t := at
		e.PublishedAt = &t
		e.UpdatedAt = at
	})
	return nil
}

func (r outboxRepo) BumpAttempts(ctx context.Context, ids []int64) error {
	r.update(ids, func(e *model.OutboxEvent) { e.Attempts++ })
	return nil
}

// ---- notifications ----

type notificationsRepo struct{ s *Store }

func (r notificationsRepo) SentTokenIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if n, ok := r.s.notifications[id]; ok && n.Status == model.NotificationSent {
			out[id] = true
		}
	}
	return out, nil
}

func (r notificationsRepo) BatchUpsert(ctx context.Context, rows []model.TokenNotification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range rows {
		existing, ok := r.s.notifications[n.TokenID]
		if ok {
			n.Attempts += existing.Attempts
			if existing.Status == model.NotificationSent {
				n.Status, n.LastError = existing.Status, existing.LastError
			}
		}
		r.s.notifications[n.TokenID] = n
	}
	return nil
}

// ---- usage ----

type usageRepo struct{ s *Store }

func (r usageRepo) InsertBatch(ctx context.Context, events []model.UsageEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.UsageErr != nil {
		return r.s.UsageErr
	}
	r.s.usage = append(r.s.usage, events...)
	return nil
}

func (r usageRepo) ListByToken(ctx context.Context, tokenID string, limit int) ([]model.UsageEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.UsageErr != nil {
		return nil, r.s.UsageErr
	}
	var out []model.UsageEvent
	for i := len(r.s.usage) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.s.usage[i].TokenID == tokenID {
			out = append(out, r.s.usage[i])
		}
	}
	return out, nil
}

func (r usageRepo) CountByToken(ctx context.Context, tokenID string) (uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.UsageErr != nil {
		return 0, r.s.UsageErr
	}
	var n uint64
	for _, e := range r.s.usage {
		if e.TokenID == tokenID {
			n++
		}
	}
	return n, nil
}
