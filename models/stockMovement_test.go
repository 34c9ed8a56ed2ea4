package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/utils"
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestStockMovementBeforeSave(t *testing.T) {
	valid := StockMovement{
		ProductId: 1, WarehouseId: 1,
		MovementType: StockMovementDecrease,
		Qty:          d(3), PreviousStock: d(10), NewStock: d(7),
	}
	if err := valid.BeforeSave(nil); err != nil {
		t.Fatalf("valid movement rejected: %v", err)
	}

	arithmetic := valid
	arithmetic.NewStock = d(8)
	if err := arithmetic.BeforeSave(nil); err == nil {
		t.Fatal("arithmetic mismatch must be rejected")
	}

	zeroQty := valid
	zeroQty.Qty = decimal.Zero
	if err := zeroQty.BeforeSave(nil); err == nil {
		t.Fatal("zero qty must be rejected")
	}

	negative := StockMovement{
		ProductId: 1, WarehouseId: 1,
		MovementType: StockMovementDecrease,
		Qty:          d(5), PreviousStock: d(3), NewStock: d(-2),
	}
	if err := negative.BeforeSave(nil); !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestValidateMovementChain(t *testing.T) {
	chain := []*StockMovement{
		{MovementType: StockMovementIncrease, Qty: d(10), PreviousStock: d(0), NewStock: d(10)},
		{MovementType: StockMovementDecrease, Qty: d(4), PreviousStock: d(10), NewStock: d(6)},
		{MovementType: StockMovementIncrease, Qty: d(4), PreviousStock: d(6), NewStock: d(10)},
	}
	if err := ValidateMovementChain(chain); err != nil {
		t.Fatalf("valid chain rejected: %v", err)
	}

	// entry[2].PreviousStock must equal entry[1].NewStock
	broken := []*StockMovement{
		{MovementType: StockMovementIncrease, Qty: d(10), PreviousStock: d(0), NewStock: d(10)},
		{MovementType: StockMovementDecrease, Qty: d(4), PreviousStock: d(10), NewStock: d(6)},
		{MovementType: StockMovementIncrease, Qty: d(4), PreviousStock: d(7), NewStock: d(11)},
	}
	if err := ValidateMovementChain(broken); err == nil {
		t.Fatal("continuity break must be detected")
	}

	if err := ValidateMovementChain(nil); err != nil {
		t.Fatalf("empty chain is valid: %v", err)
	}
}

func TestSummarizeMovements(t *testing.T) {
	entries := []*StockMovement{
		{MovementType: StockMovementIncrease, Qty: d(10)},
		{MovementType: StockMovementDecrease, Qty: d(3)},
		{MovementType: StockMovementDecrease, Qty: d(2)},
		{MovementType: StockMovementIncrease, Qty: d(1)},
	}
	s := SummarizeMovements(7, 2, entries)
	if s.ProductId != 7 || s.WarehouseId != 2 {
		t.Fatalf("wrong identity: %+v", s)
	}
	if s.MovementCount != 4 {
		t.Fatalf("expected 4 movements, got %d", s.MovementCount)
	}
	if !s.TotalIncrease.Equal(d(11)) || !s.TotalDecrease.Equal(d(5)) {
		t.Fatalf("wrong totals: +%s -%s", s.TotalIncrease, s.TotalDecrease)
	}
	if !s.NetChange.Equal(d(6)) {
		t.Fatalf("expected net change 6, got %s", s.NetChange)
	}
}

func TestConfirmationEmitsOneDecreasePerLine(t *testing.T) {
	// A confirmed order with lines (qty 3, qty 1) implies two DECREASE
	// effects of those quantities against the order's warehouse.
	order := testOrder()
	spec, ok := MovementForStatus(OrderStatusConfirmed)
	if !ok || spec.Type != StockMovementDecrease {
		t.Fatalf("confirmed must imply a DECREASE, got %+v ok=%v", spec, ok)
	}

	var qtys []decimal.Decimal
	for _, line := range order.Details {
		qtys = append(qtys, line.Qty)
	}
	if len(qtys) != 2 || !qtys[0].Equal(d(3)) || !qtys[1].Equal(d(1)) {
		t.Fatalf("expected per-line quantities [3 1], got %v", qtys)
	}
}

func TestBackoffForAttempt(t *testing.T) {
	if backoffForAttempt(1) >= backoffForAttempt(3) {
		t.Fatal("backoff must grow with attempts")
	}
	if backoffForAttempt(6) != backoffForAttempt(20) {
		t.Fatal("backoff must cap")
	}
}
