package model

import (
	"errors"
	"testing"

	"github.com/jmehdipour/tokengen/internal/apperr"
)

func TestNextOrderStatus(t *testing.T) {
	cases := []struct {
		from   OrderStatus
		action OrderAction
		want   OrderStatus
		ok     bool
	}{
		{OrderPending, ActionUploadProof, OrderPending, true},
		{OrderPending, ActionDeleteProof, OrderPending, true},
		{OrderPending, ActionCancel, OrderRejected, true},
		{OrderPending, ActionConfirm, OrderConfirmed, true},
		{OrderPending, ActionReject, OrderRejected, true},
		{OrderRejected, ActionRetryPayment, OrderPending, true},
		{OrderExpired, ActionRetryPayment, OrderPending, true},

		{OrderConfirmed, ActionConfirm, OrderConfirmed, false},
		{OrderConfirmed, ActionReject, OrderConfirmed, false},
		{OrderConfirmed, ActionUploadProof, OrderConfirmed, false},
		{OrderConfirmed, ActionRetryPayment, OrderConfirmed, false},
		{OrderRejected, ActionConfirm, OrderRejected, false},
		{OrderRejected, ActionCancel, OrderRejected, false},
		{OrderRejected, ActionDeleteProof, OrderRejected, false},
		{OrderPending, ActionRetryPayment, OrderPending, false},
		{OrderExpired, ActionConfirm, OrderExpired, false},
	}
	for _, c := range cases {
		got, err := NextOrderStatus(c.from, c.action)
		if c.ok {
			if err != nil {
				t.Fatalf("%s from %s: unexpected error %v", c.action, c.from, err)
			}
			if got != c.want {
				t.Fatalf("%s from %s: expected %s, got %s", c.action, c.from, c.want, got)
			}
			continue
		}
		if !errors.Is(err, apperr.ErrInvalidState) {
			t.Fatalf("%s from %s: expected invalid state, got %v", c.action, c.from, err)
		}
		if got != c.from {
			t.Fatalf("%s from %s: status must not change on rejection, got %s", c.action, c.from, got)
		}
	}
}

func TestNextOrderStatusUnknownAction(t *testing.T) {
	if _, err := NextOrderStatus(OrderPending, OrderAction("refund")); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestAllowedFromIsACopy(t *testing.T) {
	from := AllowedFrom(ActionRetryPayment)
	if len(from) != 2 {
		t.Fatalf("expected two source statuses, got %v", from)
	}
	from[0] = OrderConfirmed
	if AllowedFrom(ActionRetryPayment)[0] != OrderRejected {
		t.Fatalf("AllowedFrom leaked its table")
	}
}

func TestParseOrderStatus(t *testing.T) {
	if s, ok := ParseOrderStatus(" pending "); !ok || s != OrderPending {
		t.Fatalf("expected PENDING, got %q %v", s, ok)
	}
	if _, ok := ParseOrderStatus("paid"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}
