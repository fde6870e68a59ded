package model

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderRejected  OrderStatus = "REJECTED"
	// OrderExpired is a valid stored value that no transition produces.
	OrderExpired OrderStatus = "EXPIRED"
)

// CancelledByUserReason is the rejection reason recorded by a buyer cancel.
const CancelledByUserReason = "Cancelled by user"

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// ParseOrderStatus accepts any case; empty input is (zero, false).
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Order is a purchase. Price and quota terms are copied from the tier at creation.
type Order struct {
	ID             string      `db:"id"              json:"id"`
	UserID         string      `db:"user_id"         json:"userId"`
	TierID         string      `db:"tier_id"         json:"tierId"`
	TierName       string      `db:"tier_name"       json:"tierName"`
	WhatsappNumber string      `db:"whatsapp_number" json:"whatsappNumber"`
	ContactEmail   *string     `db:"contact_email"   json:"contactEmail,omitempty"`
	TotalPrice     int64       `db:"total_price"     json:"totalPrice"`
	Requests       int         `db:"requests"        json:"requests"`
	DurationDays   int         `db:"duration_days"   json:"durationDays"`
	Status         OrderStatus `db:"status"          json:"status"`
	PaymentProof   *string     `db:"payment_proof"   json:"paymentProof"`
	RejectedReason *string     `db:"rejected_reason" json:"rejectedReason"`
	ConfirmedBy    *string     `db:"confirmed_by"    json:"confirmedBy,omitempty"`
	ConfirmedAt    *time.Time  `db:"confirmed_at"    json:"confirmedAt,omitempty"`
	CreatedAt      time.Time   `db:"created_at"      json:"createdAt"`
	UpdatedAt      time.Time   `db:"updated_at"      json:"updatedAt"`
}

// OrderDetail is an order together with the token issued for it, if any.
type OrderDetail struct {
	Order
	Token *Token `json:"token,omitempty"`
}

// OrderStats is the admin dashboard summary.
type OrderStats struct {
	TotalOrders     int64 `db:"total_orders"     json:"totalOrders"`
	PendingOrders   int64 `db:"pending_orders"   json:"pendingOrders"`
	ConfirmedOrders int64 `db:"confirmed_orders" json:"confirmedOrders"`
	TotalRevenue    int64 `db:"total_revenue"    json:"totalRevenue"`
	ActiveTokens    int64 `db:"active_tokens"    json:"activeTokens"`
}
