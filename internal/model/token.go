package model

import "time"

// Token is the metered credential issued for one confirmed order.
type Token struct {
	ID          string     `db:"id"           json:"id"`
	UserID      string     `db:"user_id"      json:"userId"`
	OrderID     string     `db:"order_id"     json:"orderId"`
	Secret      string     `db:"token"        json:"token"`
	Requests    int        `db:"requests"     json:"requests"`
	MaxRequests int        `db:"max_requests" json:"maxRequests"`
	Active      bool       `db:"active"       json:"active"`
	ExpiresAt   *time.Time `db:"expires_at"   json:"expiresAt"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"lastUsedAt"`
	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
}

// Outcome is the result of checking or redeeming a token.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeInvalidToken Outcome = "invalid_token"
	OutcomeInactive     Outcome = "inactive"
	OutcomeExhausted    Outcome = "exhausted"
	OutcomeExpired      Outcome = "expired"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) OK() bool { return o == OutcomeOK }

// Message is the client-facing text for a failed outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeInvalidToken:
		return "Invalid token"
	case OutcomeInactive:
		return "Token is inactive"
	case OutcomeExhausted:
		return "Token has no remaining requests"
	case OutcomeExpired:
		return "Token has expired"
	default:
		return ""
	}
}

// ValidationMessage is the text the validate endpoint reports. It differs
// from Message only for an exhausted token.
func (o Outcome) ValidationMessage() string {
	if o == OutcomeExhausted {
		return "No remaining requests"
	}
	return o.Message()
}

// Classify applies the redemption checks in order: missing, inactive, exhausted, expired.
// Exhaustion wins over expiry.
func Classify(t *Token, now time.Time) Outcome {
	switch {
	case t == nil:
		return OutcomeInvalidToken
	case !t.Active:
		return OutcomeInactive
	case t.Requests <= 0:
		return OutcomeExhausted
	case t.ExpiresAt != nil && !t.ExpiresAt.After(now):
		return OutcomeExpired
	default:
		return OutcomeOK
	}
}

// Redemption is what a consume attempt reports. TokenID and UserID are set
// whenever the token exists.
type Redemption struct {
	Outcome   Outcome
	TokenID   string
	UserID    string
	Remaining int
}

// Validation is the read-only view returned by the validate endpoint.
type Validation struct {
	Valid             bool       `json:"valid"`
	RemainingRequests *int       `json:"remainingRequests,omitempty"`
	MaxRequests       *int       `json:"maxRequests,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// TokenStats is a token with its order terms and recent usage.
type TokenStats struct {
	Token       Token        `json:"token"`
	TierName    string       `json:"tierName"`
	UsageCount  uint64       `json:"usageCount"`
	RecentUsage []UsageEvent `json:"recentUsage"`
}
