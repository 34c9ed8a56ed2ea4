package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func invoicePeriod() *InvoicePeriodInput {
	return &InvoicePeriodInput{
		SellerId:    1,
		WarehouseId: 2,
		PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC),
	}
}

func deliveredOrder(id int, lines ...OrderDetail) *Order {
	return &Order{ID: id, SellerId: 1, WarehouseId: 2, Status: OrderStatusDelivered, Details: lines}
}

func TestBuildInvoicePreview_Aggregation(t *testing.T) {
	orders := []*Order{
		deliveredOrder(1,
			OrderDetail{ProductId: 100, Qty: d(2), UnitPrice: d(10)},
			OrderDetail{ProductId: 101, Qty: d(1), UnitPrice: d(50)},
		),
		deliveredOrder(2,
			OrderDetail{ProductId: 100, Qty: d(3), UnitPrice: d(10)},
		),
	}
	expeditions := []*Expedition{
		{ID: 7, Fee: d(25), IsPaid: boolPtr(false)},
		{ID: 8, Fee: d(15), IsPaid: boolPtr(true)},
	}

	p := BuildInvoicePreview(invoicePeriod(), orders, expeditions, nil, nil)

	if len(p.OrderIds) != 2 || len(p.ExpeditionIds) != 2 {
		t.Fatalf("expected all candidates billable, got %v / %v", p.OrderIds, p.ExpeditionIds)
	}
	if p.UniqueProductCount != 2 {
		t.Fatalf("expected 2 unique products, got %d", p.UniqueProductCount)
	}
	if !p.TotalQty.Equal(d(6)) {
		t.Fatalf("expected total qty 6, got %s", p.TotalQty)
	}
	// 2x10 + 1x50 + 3x10 = 120
	if !p.TotalSales.Equal(d(120)) {
		t.Fatalf("expected total sales 120, got %s", p.TotalSales)
	}
	if !p.ExpeditionFeeTotal.Equal(d(40)) {
		t.Fatalf("expected expedition fees 40, got %s", p.ExpeditionFeeTotal)
	}
	// Only the unpaid expedition contributes to the informational subtotal.
	if !p.UnpaidExpeditionTotal.Equal(d(25)) {
		t.Fatalf("expected unpaid subtotal 25, got %s", p.UnpaidExpeditionTotal)
	}

	byProduct := map[int]ProductSales{}
	for _, ps := range p.ProductBreakdown {
		byProduct[ps.ProductId] = ps
	}
	if !byProduct[100].Qty.Equal(d(5)) || !byProduct[100].TotalSales.Equal(d(50)) {
		t.Fatalf("product 100 breakdown wrong: %+v", byProduct[100])
	}
	if !byProduct[101].Qty.Equal(d(1)) || !byProduct[101].TotalSales.Equal(d(50)) {
		t.Fatalf("product 101 breakdown wrong: %+v", byProduct[101])
	}
}

func TestBuildInvoicePreview_ExcludesBilled(t *testing.T) {
	orders := []*Order{
		deliveredOrder(1, OrderDetail{ProductId: 100, Qty: d(2), UnitPrice: d(10)}),
		deliveredOrder(2, OrderDetail{ProductId: 100, Qty: d(3), UnitPrice: d(10)}),
	}
	expeditions := []*Expedition{
		{ID: 7, Fee: d(25), IsPaid: boolPtr(false)},
	}
	billedOrders := map[int]bool{1: true}
	billedExpeditions := map[int]bool{7: true}

	p := BuildInvoicePreview(invoicePeriod(), orders, expeditions, billedOrders, billedExpeditions)

	if len(p.OrderIds) != 1 || p.OrderIds[0] != 2 {
		t.Fatalf("billed order must be excluded, got %v", p.OrderIds)
	}
	if len(p.ExpeditionIds) != 0 {
		t.Fatalf("billed expedition must be excluded, got %v", p.ExpeditionIds)
	}
	if !p.TotalSales.Equal(d(30)) {
		t.Fatalf("expected sales 30 after exclusion, got %s", p.TotalSales)
	}
	if !p.ExpeditionFeeTotal.IsZero() {
		t.Fatalf("excluded expedition must not count, got %s", p.ExpeditionFeeTotal)
	}
}

// Overlapping periods must never double-bill: once the first invoice claims
// an order, a preview for any overlapping period excludes it.
func TestBuildInvoicePreview_OverlappingPeriods(t *testing.T) {
	shared := deliveredOrder(1, OrderDetail{ProductId: 100, Qty: d(1), UnitPrice: d(100)})

	first := BuildInvoicePreview(invoicePeriod(), []*Order{shared}, nil, nil, nil)
	if len(first.OrderIds) != 1 {
		t.Fatalf("first invoice should claim the order: %v", first.OrderIds)
	}

	billed := map[int]bool{}
	for _, id := range first.OrderIds {
		billed[id] = true
	}
	second := BuildInvoicePreview(invoicePeriod(), []*Order{shared}, nil, billed, nil)
	if len(second.OrderIds) != 0 {
		t.Fatalf("second invoice must not re-bill: %v", second.OrderIds)
	}
	if !second.TotalSales.IsZero() {
		t.Fatalf("second invoice sales must be zero, got %s", second.TotalSales)
	}
}

// Preview is read-idempotent: same inputs, same aggregate.
func TestBuildInvoicePreview_Deterministic(t *testing.T) {
	orders := []*Order{
		deliveredOrder(1, OrderDetail{ProductId: 100, Qty: d(2), UnitPrice: decimal.RequireFromString("10.5")}),
	}
	a := BuildInvoicePreview(invoicePeriod(), orders, nil, nil, nil)
	b := BuildInvoicePreview(invoicePeriod(), orders, nil, nil, nil)
	if !a.TotalSales.Equal(b.TotalSales) || a.UniqueProductCount != b.UniqueProductCount || !a.TotalQty.Equal(b.TotalQty) {
		t.Fatalf("previews differ: %+v vs %+v", a, b)
	}
	if !a.TotalSales.Equal(decimal.RequireFromString("21")) {
		t.Fatalf("expected 21, got %s", a.TotalSales)
	}
}

func TestBuildInvoicePreview_Empty(t *testing.T) {
	p := BuildInvoicePreview(invoicePeriod(), nil, nil, nil, nil)
	if len(p.OrderIds) != 0 || len(p.ExpeditionIds) != 0 {
		t.Fatalf("expected empty preview, got %+v", p)
	}
	if !p.TotalSales.IsZero() || !p.TotalQty.IsZero() {
		t.Fatalf("empty preview must have zero totals: %+v", p)
	}
}

func boolPtr(b bool) *bool { return &b }
