package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/utils"
)

func testOrder() *Order {
	o := &Order{
		ID: 1,
		Details: []OrderDetail{
			{ID: 10, OrderId: 1, ProductId: 100, Qty: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(10), OriginalPrice: decimal.NewFromInt(10)},
			{ID: 11, OrderId: 1, ProductId: 101, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(50), OriginalPrice: decimal.NewFromInt(50)},
		},
	}
	o.TotalPrice = o.RecomputeTotalPrice()
	return o
}

func TestApplyDiscountLines_SingleLine(t *testing.T) {
	order := testOrder()
	now := time.Now()

	adjustments, summary, err := ApplyDiscountLines(order, []DiscountLine{
		{ProductId: 100, OriginalPrice: decimal.NewFromInt(10), NewPrice: decimal.NewFromInt(7), Reason: "price match"},
	}, 5, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("expected 1 adjustment, got %d", len(adjustments))
	}

	adj := adjustments[0]
	if !adj.DiscountAmount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected per-unit discount 3, got %s", adj.DiscountAmount)
	}
	if !adj.DiscountPercentage.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected 30%% discount, got %s", adj.DiscountPercentage)
	}
	// 3 units x 3 off.
	if !order.TotalDiscountAmount.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected total discount 9, got %s", order.TotalDiscountAmount)
	}
	// 3x7 + 1x50 = 71, recomputed from the discounted lines.
	want := decimal.NewFromInt(71)
	if order.FinalTotalPrice == nil || !order.FinalTotalPrice.Equal(want) {
		t.Fatalf("expected final total %s, got %v", want, order.FinalTotalPrice)
	}
	if !order.RecomputeTotalPrice().Equal(want) {
		t.Fatalf("line prices not updated: recomputed %s", order.RecomputeTotalPrice())
	}
	if !strings.Contains(summary, "product 100") {
		t.Fatalf("summary should mention the discounted product: %q", summary)
	}
}

func TestApplyDiscountLines_EmptyPayloadIsNoop(t *testing.T) {
	order := testOrder()
	adjustments, summary, err := ApplyDiscountLines(order, nil, 5, time.Now())
	if err != nil || adjustments != nil || summary != "" {
		t.Fatalf("empty payload must be a no-op, got (%v, %q, %v)", adjustments, summary, err)
	}
	if order.FinalTotalPrice != nil {
		t.Fatal("no-op must not set a final total")
	}
}

func TestApplyDiscountLines_AllOrNothing(t *testing.T) {
	order := testOrder()
	before := order.RecomputeTotalPrice()

	_, _, err := ApplyDiscountLines(order, []DiscountLine{
		{ProductId: 100, OriginalPrice: decimal.NewFromInt(10), NewPrice: decimal.NewFromInt(7)},
		{ProductId: 999, OriginalPrice: decimal.NewFromInt(10), NewPrice: decimal.NewFromInt(5)},
	}, 5, time.Now())
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error for unknown product, got %v", err)
	}
	// The valid first line must not have been applied.
	if !order.RecomputeTotalPrice().Equal(before) {
		t.Fatal("rejected payload must leave the order untouched")
	}
	if !order.TotalDiscountAmount.IsZero() {
		t.Fatal("rejected payload must not accumulate discount")
	}
}

func TestApplyDiscountLines_Validation(t *testing.T) {
	cases := []struct {
		name string
		line DiscountLine
	}{
		{"price increase", DiscountLine{ProductId: 100, OriginalPrice: decimal.NewFromInt(10), NewPrice: decimal.NewFromInt(12)}},
		{"price unchanged", DiscountLine{ProductId: 100, OriginalPrice: decimal.NewFromInt(10), NewPrice: decimal.NewFromInt(10)}},
		{"negative price", DiscountLine{ProductId: 100, OriginalPrice: decimal.NewFromInt(10), NewPrice: decimal.NewFromInt(-1)}},
		{"stale original price", DiscountLine{ProductId: 100, OriginalPrice: decimal.NewFromInt(12), NewPrice: decimal.NewFromInt(7)}},
	}
	for _, c := range cases {
		order := testOrder()
		_, _, err := ApplyDiscountLines(order, []DiscountLine{c.line}, 5, time.Now())
		if !utils.IsValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", c.name, err)
		}
	}
}

func TestApplyDiscountLines_FreeItemAllowed(t *testing.T) {
	order := testOrder()
	_, _, err := ApplyDiscountLines(order, []DiscountLine{
		{ProductId: 101, OriginalPrice: decimal.NewFromInt(50), NewPrice: decimal.Zero, Reason: "goodwill"},
	}, 5, time.Now())
	if err != nil {
		t.Fatalf("discount to zero must be allowed: %v", err)
	}
	if !order.TotalDiscountAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected total discount 50, got %s", order.TotalDiscountAmount)
	}
	want := decimal.NewFromInt(30)
	if order.FinalTotalPrice == nil || !order.FinalTotalPrice.Equal(want) {
		t.Fatalf("expected final total %s, got %v", want, order.FinalTotalPrice)
	}
}
