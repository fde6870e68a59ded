package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrDuplicateSecret means the generated secret collided; callers regenerate.
	ErrDuplicateSecret = errors.New("token secret already exists")
	// ErrTokenExists means the order already has a token.
	ErrTokenExists = errors.New("token already issued for order")
)

type TokensRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, t model.Token) error
	// Get* return (nil, nil) when nothing matches.
	GetByID(ctx context.Context, id string) (*model.Token, error)
	GetBySecret(ctx context.Context, secret string) (*model.Token, error)
	GetByOrderID(ctx context.Context, tx *sqlx.Tx, orderID string) (*model.Token, error)
	ListByUser(ctx context.Context, userID string) ([]model.Token, error)
	// Consume atomically classifies the token and, when usable, spends one request.
	Consume(ctx context.Context, secret string, now time.Time) (model.Redemption, error)
}

type TokensRepositoryImpl struct {
	db *sqlx.DB
}

func NewTokensRepository(db *sqlx.DB) *TokensRepositoryImpl {
	return &TokensRepositoryImpl{db: db}
}

var _ TokensRepository = (*TokensRepositoryImpl)(nil)

const tokenColumns = `id, user_id, order_id, token, requests, max_requests, active, expires_at, last_used_at, created_at`

func (r *TokensRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, t model.Token) error {
	_, err := sqlx.NamedExecContext(ctx, pick(r.db, tx), `
		INSERT INTO tokens
		    (id, user_id, order_id, token, requests, max_requests, active, expires_at, created_at)
		VALUES
		    (:id, :user_id, :order_id, :token, :requests, :max_requests, :active, :expires_at, :created_at)
	`, t)
	if key, dup := duplicateKey(err); dup {
		if key == "uq_tokens_order" {
			return ErrTokenExists
		}
		return ErrDuplicateSecret
	}
	return err
}

func (r *TokensRepositoryImpl) getOne(ctx context.Context, q execer, where string, arg interface{}) (*model.Token, error) {
	var t model.Token
	err := q.GetContext(ctx, &t, `SELECT `+tokenColumns+` FROM tokens WHERE `+where+` = ? LIMIT 1`, arg)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TokensRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Token, error) {
	return r.getOne(ctx, r.db, "id", id)
}

func (r *TokensRepositoryImpl) GetBySecret(ctx context.Context, secret string) (*model.Token, error) {
	return r.getOne(ctx, r.db, "token", secret)
}

func (r *TokensRepositoryImpl) GetByOrderID(ctx context.Context, tx *sqlx.Tx, orderID string) (*model.Token, error) {
	return r.getOne(ctx, pick(r.db, tx), "order_id", orderID)
}

func (r *TokensRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]model.Token, error) {
	var tokens []model.Token
	err := r.db.SelectContext(ctx, &tokens, `
		SELECT `+tokenColumns+`
		  FROM tokens
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
	`, userID)
	return tokens, err
}

// Consume locks the row, classifies it and spends one request with a guarded
// decrement, so concurrent redemptions never overspend the quota.
func (r *TokensRepositoryImpl) Consume(ctx context.Context, secret string, now time.Time) (model.Redemption, error) {
	var red model.Redemption

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return red, err
	}
	defer func() { _ = tx.Rollback() }()

	var t model.Token
	err = tx.GetContext(ctx, &t, `SELECT `+tokenColumns+` FROM tokens WHERE token = ? LIMIT 1 FOR UPDATE`, secret)
	if noRows(err) {
		red.Outcome = model.OutcomeInvalidToken
		return red, nil
	}
	if err != nil {
		return red, err
	}

	red.TokenID, red.UserID = t.ID, t.UserID
	if red.Outcome = model.Classify(&t, now); !red.Outcome.OK() {
		return red, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tokens
		   SET requests = requests - 1, last_used_at = ?
		 WHERE id = ? AND requests > 0
	`, now, t.ID)
	if err != nil {
		return red, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return red, err
	}
	if n == 0 {
		red.Outcome = model.OutcomeExhausted
		return red, nil
	}
	if err := tx.Commit(); err != nil {
		return red, err
	}

	red.Remaining = t.Requests - 1
	return red, nil
}
