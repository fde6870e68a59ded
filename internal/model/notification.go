package model

import "time"

// TopicTokenIssued carries TokenIssued envelopes from the outbox to the notifier.
const TopicTokenIssued = "token.issued"

// TokenIssued is the outbox payload written when a token is issued. It holds the
// secret because the notifier has to deliver it.
type TokenIssued struct {
	TokenID   string     `json:"token_id"`
	OrderID   string     `json:"order_id"`
	UserID    string     `json:"user_id"`
	Secret    string     `json:"secret"`
	TierName  string     `json:"tier_name"`
	Quota     int        `json:"quota"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Recipient string     `json:"recipient"`
}

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// TokenNotification is the notifier's delivery record for one token.
type TokenNotification struct {
	TokenID   string             `db:"token_id"`
	Recipient string             `db:"recipient"`
	Status    NotificationStatus `db:"status"`
	Attempts  int                `db:"attempts"`
	LastError *string            `db:"last_error"`
	UpdatedAt time.Time          `db:"updated_at"`
}
