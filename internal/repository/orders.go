package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmoiron/sqlx"
)

// StatusChange is a guarded order transition: it applies only while the
// order is still in one of From.
type StatusChange struct {
	From []model.OrderStatus
	To   model.OrderStatus
	At   time.Time

	RejectedReason *string // To == REJECTED
	ConfirmedBy    string  // To == CONFIRMED
	ClearProof     bool    // clears payment_proof and rejected_reason
}

// OrderFilter narrows the admin listing. Zero Status means all.
type OrderFilter struct {
	Status model.OrderStatus
	Limit  int
	Offset int
}

type OrdersRepository interface {
	Create(ctx context.Context, o model.Order) error
	// Get returns (nil, nil) when the order does not exist.
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Order, error)
	ListByUser(ctx context.Context, userID string) ([]model.Order, error)
	List(ctx context.Context, f OrderFilter) ([]model.Order, error)
	// Transition reports false when no row matched the guard.
	Transition(ctx context.Context, tx *sqlx.Tx, id string, c StatusChange) (bool, error)
	// SetProof writes or clears (proof == nil) the payment proof while status is in from.
	SetProof(ctx context.Context, id string, proof *string, from []model.OrderStatus, at time.Time) (bool, error)
	Stats(ctx context.Context) (model.OrderStats, error)
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

const orderColumns = `id, user_id, tier_id, tier_name, whatsapp_number, contact_email, total_price,
	requests, duration_days, status, payment_proof, rejected_reason, confirmed_by, confirmed_at,
	created_at, updated_at`

func (r *OrdersRepositoryImpl) Create(ctx context.Context, o model.Order) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO orders
		    (id, user_id, tier_id, tier_name, whatsapp_number, contact_email, total_price,
		     requests, duration_days, status, payment_proof, rejected_reason, created_at, updated_at)
		VALUES
		    (:id, :user_id, :tier_id, :tier_name, :whatsapp_number, :contact_email, :total_price,
		     :requests, :duration_days, :status, :payment_proof, :rejected_reason, :created_at, :updated_at)
	`, o)
	return err
}

func (r *OrdersRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Order, error) {
	var o model.Order
	err := pick(r.db, tx).GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ? LIMIT 1`, id)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrdersRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+`
		  FROM orders
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
	`, userID)
	return orders, err
}

func (r *OrdersRepositoryImpl) List(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if f.Status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, f.Status)
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	if f.Limit > 0 {
		sb.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, f.Limit, f.Offset)
	}

	var orders []model.Order
	err := r.db.SelectContext(ctx, &orders, sb.String(), args...)
	return orders, err
}

func (r *OrdersRepositoryImpl) Transition(ctx context.Context, tx *sqlx.Tx, id string, c StatusChange) (bool, error) {
	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{c.To, c.At}

	switch c.To {
	case model.OrderRejected:
		set = append(set, "rejected_reason = ?")
		args = append(args, c.RejectedReason)
	case model.OrderConfirmed:
		set = append(set, "confirmed_by = ?", "confirmed_at = ?")
		args = append(args, c.ConfirmedBy, c.At)
	}
	if c.ClearProof {
		set = append(set, "payment_proof = NULL", "rejected_reason = NULL")
	}
	args = append(args, id, c.From)

	q, args, err := sqlx.In(`UPDATE orders SET `+strings.Join(set, ", ")+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return false, err
	}
	res, err := pick(r.db, tx).ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *OrdersRepositoryImpl) SetProof(ctx context.Context, id string, proof *string, from []model.OrderStatus, at time.Time) (bool, error) {
	q, args, err := sqlx.In(`UPDATE orders SET payment_proof = ?, updated_at = ? WHERE id = ? AND status IN (?)`, proof, at, id, from)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *OrdersRepositoryImpl) Stats(ctx context.Context) (model.OrderStats, error) {
	var s model.OrderStats
	err := r.db.GetContext(ctx, &s, `
		SELECT
		    (SELECT COUNT(*) FROM orders)                                           AS total_orders,
		    (SELECT COUNT(*) FROM orders WHERE status = 'PENDING')                  AS pending_orders,
		    (SELECT COUNT(*) FROM orders WHERE status = 'CONFIRMED')                AS confirmed_orders,
		    (SELECT COALESCE(SUM(total_price), 0) FROM orders WHERE status = 'CONFIRMED') AS total_revenue,
		    (SELECT COUNT(*) FROM tokens WHERE active = 1)                          AS active_tokens
	`)
	return s, err
}
