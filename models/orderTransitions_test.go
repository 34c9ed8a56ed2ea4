package models

import (
	"testing"
)

func TestCheckOrderTransition_AllowsNormalFlow(t *testing.T) {
	steps := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusConfirmed, OrderStatusInPreparation},
		{OrderStatusInPreparation, OrderStatusShipped},
		{OrderStatusShipped, OrderStatusOutForDelivery},
		{OrderStatusOutForDelivery, OrderStatusDelivered},
	}
	for _, s := range steps {
		if err := CheckOrderTransition(s.from, s.to); err != nil {
			t.Fatalf("transition %s -> %s should be allowed: %v", s.from, s.to, err)
		}
	}
}

func TestCheckOrderTransition_DoubleIsSystemOnly(t *testing.T) {
	if err := CheckOrderTransition(OrderStatusPending, OrderStatusDouble); err == nil {
		t.Fatal("manual transition to double must be rejected")
	}
	// An order parked in double can be released back to pending by staff.
	if err := CheckOrderTransition(OrderStatusDouble, OrderStatusPending); err != nil {
		t.Fatalf("double -> pending should be allowed: %v", err)
	}
}

func TestCheckOrderTransition_TerminalStatuses(t *testing.T) {
	for _, terminal := range []OrderStatus{OrderStatusCancelled, OrderStatusReturned} {
		if err := CheckOrderTransition(terminal, OrderStatusConfirmed); err == nil {
			t.Fatalf("transition out of terminal %s must be rejected", terminal)
		}
		// Same status is never an error: it is the discount no-op event.
		if err := CheckOrderTransition(terminal, terminal); err != nil {
			t.Fatalf("same-status %s should not error: %v", terminal, err)
		}
	}
}

func TestCheckOrderTransition_DeliveredReversals(t *testing.T) {
	if err := CheckOrderTransition(OrderStatusDelivered, OrderStatusRefunded); err != nil {
		t.Fatalf("delivered -> refunded should be allowed: %v", err)
	}
	if err := CheckOrderTransition(OrderStatusDelivered, OrderStatusDeliveryFailed); err != nil {
		t.Fatalf("delivered -> delivery_failed should be allowed: %v", err)
	}
	if err := CheckOrderTransition(OrderStatusDelivered, OrderStatusPending); err == nil {
		t.Fatal("delivered -> pending must be rejected")
	}
	if err := CheckOrderTransition(OrderStatusDelivered, OrderStatusConfirmed); err == nil {
		t.Fatal("delivered -> confirmed must be rejected")
	}
}

func TestCheckOrderTransition_UnknownStatus(t *testing.T) {
	if err := CheckOrderTransition(OrderStatusPending, OrderStatus("bogus")); err == nil {
		t.Fatal("unknown status must be rejected")
	}
}

func TestMovementForStatus(t *testing.T) {
	cases := []struct {
		status   OrderStatus
		wantType StockMovementType
		want     bool
	}{
		{OrderStatusConfirmed, StockMovementDecrease, true},
		{OrderStatusDeliveryFailed, StockMovementIncrease, true},
		{OrderStatusRefunded, StockMovementIncrease, true},
		{OrderStatusUnreached, StockMovementIncrease, true},
		{OrderStatusCancelled, StockMovementIncrease, true},
		{OrderStatusDelivered, "", false},
		{OrderStatusShipped, "", false},
		{OrderStatusPending, "", false},
		{OrderStatusBusy, "", false},
	}
	for _, c := range cases {
		spec, ok := MovementForStatus(c.status)
		if ok != c.want {
			t.Fatalf("%s: expected movement=%v, got %v", c.status, c.want, ok)
		}
		if ok && spec.Type != c.wantType {
			t.Fatalf("%s: expected %s, got %s", c.status, c.wantType, spec.Type)
		}
		if ok && spec.Reason == "" {
			t.Fatalf("%s: movement must carry a reason", c.status)
		}
	}
}

func TestStatusCatalogComplete(t *testing.T) {
	if len(allOrderStatuses) != 30 {
		t.Fatalf("expected 30 order statuses, got %d", len(allOrderStatuses))
	}
}
