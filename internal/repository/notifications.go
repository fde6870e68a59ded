package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmoiron/sqlx"
)

// NotificationsRepository records token delivery attempts made by the notifier.
type NotificationsRepository interface {
	// SentTokenIDs returns which of ids already have a successful delivery.
	SentTokenIDs(ctx context.Context, ids []string) (map[string]bool, error)
	BatchUpsert(ctx context.Context, rows []model.TokenNotification) error
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

func (r *NotificationsRepositoryImpl) SentTokenIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT token_id FROM token_notifications WHERE status = 'sent' AND token_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var sent []string
	if err := r.db.SelectContext(ctx, &sent, q, args...); err != nil {
		return nil, err
	}
	for _, id := range sent {
		out[id] = true
	}
	return out, nil
}

// BatchUpsert writes all rows in one statement. A sent row is never downgraded.
func (r *NotificationsRepositoryImpl) BatchUpsert(ctx context.Context, rows []model.TokenNotification) error {
	if len(rows) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(rows)*6)
	)
	sb.WriteString(`INSERT INTO token_notifications (token_id, recipient, status, attempts, last_error, updated_at) VALUES `)
	for i, n := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, n.TokenID, n.Recipient, n.Status, n.Attempts, n.LastError, n.UpdatedAt)
	}
	sb.WriteString(`
		ON DUPLICATE KEY UPDATE
		    attempts   = attempts + VALUES(attempts),
		    last_error = IF(status = 'sent', last_error, VALUES(last_error)),
		    status     = IF(status = 'sent', status, VALUES(status)),
		    updated_at = VALUES(updated_at)
	`)

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}
