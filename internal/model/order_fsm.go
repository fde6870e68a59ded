package model

import (
	"fmt"

	"github.com/jmehdipour/tokengen/internal/apperr"
)

type OrderAction string

const (
	ActionUploadProof  OrderAction = "upload_proof"
	ActionDeleteProof  OrderAction = "delete_proof"
	ActionCancel       OrderAction = "cancel"
	ActionConfirm      OrderAction = "confirm"
	ActionReject       OrderAction = "reject"
	ActionRetryPayment OrderAction = "retry_payment"
)

type transition struct {
	from []OrderStatus
	to   OrderStatus // empty: status unchanged
}

var orderTransitions = map[OrderAction]transition{
	ActionUploadProof:  {from: []OrderStatus{OrderPending}},
	ActionDeleteProof:  {from: []OrderStatus{OrderPending}},
	ActionCancel:       {from: []OrderStatus{OrderPending}, to: OrderRejected},
	ActionConfirm:      {from: []OrderStatus{OrderPending}, to: OrderConfirmed},
	ActionReject:       {from: []OrderStatus{OrderPending}, to: OrderRejected},
	ActionRetryPayment: {from: []OrderStatus{OrderRejected, OrderExpired}, to: OrderPending},
}

// NextOrderStatus is the single guard for order transitions. It returns the status
// the order holds after action, or an apperr InvalidState error.
func NextOrderStatus(current OrderStatus, action OrderAction) (OrderStatus, error) {
	tr, ok := orderTransitions[action]
	if !ok {
		return current, fmt.Errorf("unknown order action %q", action)
	}
	for _, s := range tr.from {
		if s == current {
			if tr.to == "" {
				return current, nil
			}
			return tr.to, nil
		}
	}
	return current, apperr.InvalidState(fmt.Sprintf("cannot %s an order that is %s", humanAction(action), current))
}

// AllowedFrom lists the statuses action may start from; repositories use it
// as the WHERE guard of the conditional write.
func AllowedFrom(action OrderAction) []OrderStatus {
	tr := orderTransitions[action]
	out := make([]OrderStatus, len(tr.from))
	copy(out, tr.from)
	return out
}

func humanAction(a OrderAction) string {
	switch a {
	case ActionUploadProof:
		return "upload proof for"
	case ActionDeleteProof:
		return "delete proof of"
	case ActionRetryPayment:
		return "retry payment of"
	default:
		return string(a)
	}
}
