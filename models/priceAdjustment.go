package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/utils"
)

// PriceAdjustment records one seller-level discount applied to an order line.
// The original per-line price is always recoverable from these rows.
type PriceAdjustment struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	OrderId            int             `gorm:"index;not null" json:"order_id"`
	ProductId          int             `gorm:"not null" json:"product_id"`
	OriginalPrice      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"original_price"`
	AdjustedPrice      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"adjusted_price"`
	DiscountAmount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"discount_amount"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_percentage"`
	Reason             string          `gorm:"size:255" json:"reason"`
	Notes              string          `gorm:"type:text" json:"notes"`
	AppliedBy          int             `gorm:"not null" json:"applied_by"`
	AppliedAt          time.Time       `gorm:"not null" json:"applied_at"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type DiscountLine struct {
	ProductId     int             `json:"product_id" binding:"required"`
	OriginalPrice decimal.Decimal `json:"original_price" binding:"required"`
	NewPrice      decimal.Decimal `json:"new_price"`
	Reason        string          `json:"reason"`
	Notes         string          `json:"notes"`
}

// ApplyDiscountLines validates and applies a discount payload to the order
// in memory: line unit prices are updated, TotalDiscountAmount accumulated
// and TotalPrice/FinalTotalPrice recomputed from the updated lines.
//
// All-or-nothing: any invalid line rejects the whole payload and the order
// is left untouched. Returns the adjustment rows to persist and a human
// readable summary for the history comment.
func ApplyDiscountLines(order *Order, lines []DiscountLine, appliedBy int, now time.Time) ([]PriceAdjustment, string, error) {
	if len(lines) == 0 {
		return nil, "", nil
	}

	detailByProduct := make(map[int]*OrderDetail, len(order.Details))
	for i := range order.Details {
		detailByProduct[order.Details[i].ProductId] = &order.Details[i]
	}

	// Validate everything before touching the order.
	for _, line := range lines {
		detail, ok := detailByProduct[line.ProductId]
		if !ok {
			return nil, "", utils.NewValidationError(fmt.Sprintf("product %d is not on the order", line.ProductId))
		}
		if line.NewPrice.IsNegative() {
			return nil, "", utils.NewValidationError(fmt.Sprintf("product %d: new price cannot be negative", line.ProductId))
		}
		if line.NewPrice.GreaterThanOrEqual(line.OriginalPrice) {
			return nil, "", utils.NewValidationError(fmt.Sprintf("product %d: new price must be lower than original price", line.ProductId))
		}
		if !line.OriginalPrice.Equal(detail.UnitPrice) {
			return nil, "", utils.NewValidationError(fmt.Sprintf("product %d: original price %s does not match current unit price %s",
				line.ProductId, line.OriginalPrice.String(), detail.UnitPrice.String()))
		}
	}

	adjustments := make([]PriceAdjustment, 0, len(lines))
	summaryParts := make([]string, 0, len(lines))
	oneHundred := decimal.NewFromInt(100)

	for _, line := range lines {
		detail := detailByProduct[line.ProductId]
		discountAmount := line.OriginalPrice.Sub(line.NewPrice)
		discountPct := decimal.Zero
		if line.OriginalPrice.IsPositive() {
			discountPct = discountAmount.Mul(oneHundred).DivRound(line.OriginalPrice, 4)
		}

		detail.UnitPrice = line.NewPrice
		order.TotalDiscountAmount = order.TotalDiscountAmount.Add(discountAmount.Mul(detail.Qty))

		adjustments = append(adjustments, PriceAdjustment{
			OrderId:            order.ID,
			ProductId:          line.ProductId,
			OriginalPrice:      line.OriginalPrice,
			AdjustedPrice:      line.NewPrice,
			DiscountAmount:     discountAmount,
			DiscountPercentage: discountPct,
			Reason:             line.Reason,
			Notes:              line.Notes,
			AppliedBy:          appliedBy,
			AppliedAt:          now,
		})
		summaryParts = append(summaryParts, fmt.Sprintf("product %d: %s -> %s (%s)",
			line.ProductId, line.OriginalPrice.String(), line.NewPrice.String(), line.Reason))
	}

	total := order.RecomputeTotalPrice()
	order.FinalTotalPrice = &total

	summary := "discount applied: " + strings.Join(summaryParts, "; ")
	return adjustments, summary, nil
}
