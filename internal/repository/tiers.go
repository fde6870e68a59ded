package repository

import (
	"context"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmoiron/sqlx"
)

type TiersRepository interface {
	ListActive(ctx context.Context) ([]model.Tier, error)
	Get(ctx context.Context, id string) (*model.Tier, error)
	Upsert(ctx context.Context, t model.Tier) error
}

type TiersRepositoryImpl struct {
	db *sqlx.DB
}

func NewTiersRepository(db *sqlx.DB) *TiersRepositoryImpl {
	return &TiersRepositoryImpl{db: db}
}

var _ TiersRepository = (*TiersRepositoryImpl)(nil)

const tierColumns = `id, name, description, price, requests, duration, popular, active, created_at, updated_at`

func (r *TiersRepositoryImpl) ListActive(ctx context.Context) ([]model.Tier, error) {
	var tiers []model.Tier
	err := r.db.SelectContext(ctx, &tiers, `
		SELECT `+tierColumns+`
		  FROM tiers
		 WHERE active = 1
		 ORDER BY price ASC, id ASC
	`)
	return tiers, err
}

// Get returns (nil, nil) when the tier does not exist.
func (r *TiersRepositoryImpl) Get(ctx context.Context, id string) (*model.Tier, error) {
	var t model.Tier
	err := r.db.GetContext(ctx, &t, `SELECT `+tierColumns+` FROM tiers WHERE id = ? LIMIT 1`, id)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert inserts a tier or refreshes its terms by unique name (seeding).
func (r *TiersRepositoryImpl) Upsert(ctx context.Context, t model.Tier) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tiers
		    (id, name, description, price, requests, duration, popular, active, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    description = VALUES(description),
		    price       = VALUES(price),
		    requests    = VALUES(requests),
		    duration    = VALUES(duration),
		    popular     = VALUES(popular),
		    active      = VALUES(active),
		    updated_at  = VALUES(updated_at)
	`, t.ID, t.Name, t.Description, t.Price, t.Requests, t.Duration, t.Popular, t.Active)
	return err
}
