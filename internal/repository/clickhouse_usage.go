package repository

import (
	"context"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsageRepository stores the redemption audit trail in ClickHouse.
type UsageRepository interface {
	InsertBatch(ctx context.Context, events []model.UsageEvent) error
	ListByToken(ctx context.Context, tokenID string, limit int) ([]model.UsageEvent, error)
	CountByToken(ctx context.Context, tokenID string) (uint64, error)
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) UsageRepository {
	return &chUsageRepository{ch: ch}
}

// InsertBatch sends events as a single ClickHouse block.
func (r *chUsageRepository) InsertBatch(ctx context.Context, events []model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tokengen.token_usage (id, token_id, user_id, ip_address, user_agent, created_at)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.TokenID, e.UserID, e.IPAddress, e.UserAgent, e.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *chUsageRepository) ListByToken(ctx context.Context, tokenID string, limit int) ([]model.UsageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var rows []model.UsageEvent
	if err := r.ch.SelectContext(ctx, &rows, `
		SELECT id, token_id, user_id, ip_address, user_agent, created_at
		FROM tokengen.token_usage
		WHERE token_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, tokenID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chUsageRepository) CountByToken(ctx context.Context, tokenID string) (uint64, error) {
	var n uint64
	err := r.ch.GetContext(ctx, &n, `SELECT count() FROM tokengen.token_usage WHERE token_id = ?`, tokenID)
	return n, err
}
