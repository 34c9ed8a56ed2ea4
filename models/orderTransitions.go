package models

import (
	"fmt"

	"github.com/warelogic/logistics_backend/utils"
)

type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusConfirmed           OrderStatus = "confirmed"
	OrderStatusBusy                OrderStatus = "busy"
	OrderStatusUnreachable         OrderStatus = "unreachable"
	OrderStatusUnreached           OrderStatus = "unreached"
	OrderStatusNoAnswer            OrderStatus = "no_answer"
	OrderStatusAskingForDiscount   OrderStatus = "asking_for_discount"
	OrderStatusNotReady            OrderStatus = "not_ready"
	OrderStatusMistakenOrder       OrderStatus = "mistaken_order"
	OrderStatusOutOfDeliveryZone   OrderStatus = "out_of_delivery_zone"
	OrderStatusWrongNumber         OrderStatus = "wrong_number"
	OrderStatusDouble              OrderStatus = "double"
	OrderStatusExpired             OrderStatus = "expired"
	OrderStatusInPreparation       OrderStatus = "in_preparation"
	OrderStatusAwaitingDispatch    OrderStatus = "awaiting_dispatch"
	OrderStatusShipped             OrderStatus = "shipped"
	OrderStatusAssignedToDelivery  OrderStatus = "assigned_to_delivery"
	OrderStatusAcceptedByDelivery  OrderStatus = "accepted_by_delivery"
	OrderStatusInTransit           OrderStatus = "in_transit"
	OrderStatusOutForDelivery      OrderStatus = "out_for_delivery"
	OrderStatusDelivered           OrderStatus = "delivered"
	OrderStatusDeliveryFailed      OrderStatus = "delivery_failed"
	OrderStatusCancelledAtDelivery OrderStatus = "cancelled_at_delivery"
	OrderStatusReturnInProgress    OrderStatus = "return_in_progress"
	OrderStatusReturned            OrderStatus = "returned"
	OrderStatusProcessed           OrderStatus = "processed"
	OrderStatusRefundInProgress    OrderStatus = "refund_in_progress"
	OrderStatusRefunded            OrderStatus = "refunded"
	OrderStatusPaid                OrderStatus = "paid"
	OrderStatusAlreadyReceived     OrderStatus = "already_received"
	OrderStatusCancelled           OrderStatus = "cancelled"
)

var allOrderStatuses = map[OrderStatus]bool{
	OrderStatusPending: true, OrderStatusConfirmed: true, OrderStatusBusy: true,
	OrderStatusUnreachable: true, OrderStatusUnreached: true, OrderStatusNoAnswer: true,
	OrderStatusAskingForDiscount: true, OrderStatusNotReady: true, OrderStatusMistakenOrder: true,
	OrderStatusOutOfDeliveryZone: true, OrderStatusWrongNumber: true, OrderStatusDouble: true,
	OrderStatusExpired: true, OrderStatusInPreparation: true, OrderStatusAwaitingDispatch: true,
	OrderStatusShipped: true, OrderStatusAssignedToDelivery: true, OrderStatusAcceptedByDelivery: true,
	OrderStatusInTransit: true, OrderStatusOutForDelivery: true, OrderStatusDelivered: true,
	OrderStatusDeliveryFailed: true, OrderStatusCancelledAtDelivery: true, OrderStatusReturnInProgress: true,
	OrderStatusReturned: true, OrderStatusProcessed: true, OrderStatusRefundInProgress: true,
	OrderStatusRefunded: true, OrderStatusPaid: true, OrderStatusAlreadyReceived: true,
	OrderStatusCancelled: true,
}

func IsValidOrderStatus(s OrderStatus) bool {
	return allOrderStatuses[s]
}

// Terminal states reject any further transition through the table. delivered
// is only reversible to refunded / delivery_failed.
var terminalOrderStatuses = map[OrderStatus]bool{
	OrderStatusCancelled: true,
	OrderStatusReturned:  true,
}

var deliveredReversals = map[OrderStatus]bool{
	OrderStatusRefunded:       true,
	OrderStatusDeliveryFailed: true,
}

type StockMovementType string

const (
	StockMovementIncrease StockMovementType = "INCREASE"
	StockMovementDecrease StockMovementType = "DECREASE"
)

// MovementSpec is the stock side effect implied by entering a status.
type MovementSpec struct {
	Type   StockMovementType
	Reason string
}

// statusMovements maps a requested status to the compensating stock movement
// emitted once per order line against the order's warehouse. Statuses absent
// from the map carry no stock effect.
var statusMovements = map[OrderStatus]MovementSpec{
	OrderStatusConfirmed:      {Type: StockMovementDecrease, Reason: "order confirmed (reserve stock)"},
	OrderStatusDeliveryFailed: {Type: StockMovementIncrease, Reason: "delivery failed (return stock)"},
	OrderStatusRefunded:       {Type: StockMovementIncrease, Reason: "customer return"},
	OrderStatusUnreached:      {Type: StockMovementIncrease, Reason: "customer unreachable (release reservation)"},
	OrderStatusCancelled:      {Type: StockMovementIncrease, Reason: "order cancelled (release reservation)"},
}

// MovementForStatus returns the stock effect for entering a status, if any.
func MovementForStatus(status OrderStatus) (MovementSpec, bool) {
	spec, ok := statusMovements[status]
	return spec, ok
}

// CheckOrderTransition validates a requested transition against the explicit
// table. A same-status pair is allowed: it is the no-op-status discount event.
func CheckOrderTransition(current OrderStatus, requested OrderStatus) error {
	if !IsValidOrderStatus(requested) {
		return utils.NewValidationError(fmt.Sprintf("unknown order status %q", requested))
	}
	if requested == OrderStatusDouble {
		// double is system-only, set by duplicate detection at creation.
		return utils.NewValidationError("status double cannot be set manually")
	}
	if current == requested {
		return nil
	}
	if terminalOrderStatuses[current] {
		return utils.NewValidationError(fmt.Sprintf("order in terminal status %q cannot transition to %q", current, requested))
	}
	if current == OrderStatusDelivered && !deliveredReversals[requested] {
		return utils.NewValidationError(fmt.Sprintf("delivered order can only be reversed to refunded or delivery_failed, not %q", requested))
	}
	return nil
}
