package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
	"gorm.io/gorm"
)

type StockReferenceType string

const (
	StockReferenceOrder      StockReferenceType = "order"
	StockReferenceExpedition StockReferenceType = "expedition"
	StockReferenceManual     StockReferenceType = "manual"
)

// StockMovement is one immutable entry of the append-only inventory ledger.
// For a given (product, warehouse) pair the entries form a chain: each
// entry's PreviousStock equals the prior entry's NewStock.
type StockMovement struct {
	ID            int                `gorm:"primary_key" json:"id"`
	ProductId     int                `gorm:"index;not null" json:"product_id"`
	WarehouseId   int                `gorm:"index;not null" json:"warehouse_id"`
	MovementType  StockMovementType  `gorm:"type:enum('INCREASE','DECREASE');not null" json:"movement_type"`
	Reason        string             `gorm:"size:255;not null" json:"reason"`
	Qty           decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"qty"`
	PreviousStock decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"previous_stock"`
	NewStock      decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"new_stock"`
	UserId        int                `json:"user_id"`
	ReferenceType StockReferenceType `gorm:"type:enum('order','expedition','manual');default:manual" json:"reference_type"`
	ReferenceId   *int               `gorm:"index" json:"reference_id"`
	Metadata      string             `gorm:"type:text" json:"metadata"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeSave enforces the ledger invariants. A row violating the
// before/after arithmetic or non-negativity never reaches the table.
func (m *StockMovement) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if m == nil {
		return nil
	}
	if !m.Qty.IsPositive() {
		return errors.New("stock movement qty must be positive")
	}
	var expected decimal.Decimal
	switch m.MovementType {
	case StockMovementIncrease:
		expected = m.PreviousStock.Add(m.Qty)
	case StockMovementDecrease:
		expected = m.PreviousStock.Sub(m.Qty)
	default:
		return fmt.Errorf("unknown movement type %q", m.MovementType)
	}
	if !m.NewStock.Equal(expected) {
		return fmt.Errorf("stock movement arithmetic mismatch: previous=%s qty=%s new=%s",
			m.PreviousStock.String(), m.Qty.String(), m.NewStock.String())
	}
	if m.NewStock.IsNegative() {
		return utils.ErrorInsufficientStock
	}
	return nil
}

type NewStockMovement struct {
	ProductId     int                `json:"product_id" binding:"required"`
	WarehouseId   int                `json:"warehouse_id" binding:"required"`
	MovementType  StockMovementType  `json:"movement_type" binding:"required"`
	Reason        string             `json:"reason" binding:"required"`
	Qty           decimal.Decimal    `json:"qty" binding:"required"`
	ReferenceType StockReferenceType `json:"reference_type"`
	ReferenceId   *int               `json:"reference_id"`
	Metadata      string             `json:"metadata"`
}

// RecordStockMovement applies one inventory change: the projection row is
// updated with an atomic conditional write, then the ledger entry is
// appended referencing the exact before/after snapshot of that write.
//
// At most one movement is in flight per (product, warehouse): a redis lease
// guards the fast path and a MySQL advisory lock the transaction itself.
func RecordStockMovement(ctx context.Context, input *NewStockMovement) (*StockMovement, error) {
	db := config.GetDB()

	if input.MovementType != StockMovementIncrease && input.MovementType != StockMovementDecrease {
		return nil, utils.NewValidationError(fmt.Sprintf("unknown movement type %q", input.MovementType))
	}
	if !input.Qty.IsPositive() {
		return nil, utils.NewValidationError("qty must be positive")
	}

	userId, _ := utils.GetUserIdFromContext(ctx)

	lock, lockErr := utils.ObtainKeyLock(ctx, stockLockKey(input.ProductId, input.WarehouseId), 30*time.Second)
	if errors.Is(lockErr, utils.ErrorConflict) {
		return nil, utils.ErrorConflict
	}
	if lock != nil {
		defer func() { _ = lock.Release(ctx) }()
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	lockKey := stockLockKey(input.ProductId, input.WarehouseId)
	if err := AcquireRowLock(tx, lockKey); err != nil {
		return nil, utils.ErrorConflict
	}
	defer ReleaseRowLock(tx, lockKey)

	var row ProductWarehouseStock
	err := tx.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", input.ProductId, input.WarehouseId).
		First(&row).Error
	missing := err != nil

	switch input.MovementType {
	case StockMovementDecrease:
		if missing {
			return nil, utils.ErrorRecordNotFound
		}
		// Conditional decrement: zero rows affected means the guard failed,
		// the projection stays untouched and nothing is appended.
		res := tx.WithContext(ctx).Model(&ProductWarehouseStock{}).
			Where("product_id = ? AND warehouse_id = ? AND stock >= ?",
				input.ProductId, input.WarehouseId, input.Qty).
			Update("stock", gorm.Expr("stock - ?", input.Qty))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, utils.ErrorInsufficientStock
		}
	case StockMovementIncrease:
		if missing {
			row = ProductWarehouseStock{
				ProductId:   input.ProductId,
				WarehouseId: input.WarehouseId,
				Stock:       decimal.Zero,
			}
			if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
				return nil, err
			}
		}
		res := tx.WithContext(ctx).Model(&ProductWarehouseStock{}).
			Where("product_id = ? AND warehouse_id = ?", input.ProductId, input.WarehouseId).
			Update("stock", gorm.Expr("stock + ?", input.Qty))
		if res.Error != nil {
			return nil, res.Error
		}
	}

	// Read back the row the conditional write produced; the advisory lock
	// guarantees no interleaved writer between update and read.
	var after ProductWarehouseStock
	if err := tx.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", input.ProductId, input.WarehouseId).
		First(&after).Error; err != nil {
		return nil, err
	}

	var previousStock decimal.Decimal
	if input.MovementType == StockMovementIncrease {
		previousStock = after.Stock.Sub(input.Qty)
	} else {
		previousStock = after.Stock.Add(input.Qty)
	}

	referenceType := input.ReferenceType
	if referenceType == "" {
		referenceType = StockReferenceManual
	}

	movement := StockMovement{
		ProductId:     input.ProductId,
		WarehouseId:   input.WarehouseId,
		MovementType:  input.MovementType,
		Reason:        input.Reason,
		Qty:           input.Qty,
		PreviousStock: previousStock,
		NewStock:      after.Stock,
		UserId:        userId,
		ReferenceType: referenceType,
		ReferenceId:   input.ReferenceId,
		Metadata:      input.Metadata,
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return nil, err
	}

	// An INCREASE bringing stock back above zero reactivates the product.
	if input.MovementType == StockMovementIncrease && after.Stock.IsPositive() {
		if err := tx.WithContext(ctx).Model(&Product{}).
			Where("id = ? AND status = ?", input.ProductId, ProductStatusOutOfStock).
			Update("status", ProductStatusActive).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

type StockHistoryFilter struct {
	ProductId   *int
	WarehouseId *int
	From        *time.Time
	To          *time.Time
	Limit       int
}

// GetStockHistory returns ledger entries for audit, oldest first.
func GetStockHistory(ctx context.Context, filter StockHistoryFilter) ([]*StockMovement, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&StockMovement{})
	if filter.ProductId != nil {
		q = q.Where("product_id = ?", *filter.ProductId)
	}
	if filter.WarehouseId != nil {
		q = q.Where("warehouse_id = ?", *filter.WarehouseId)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", *filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var entries []*StockMovement
	if err := q.Order("created_at, id").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

type StockSummary struct {
	ProductId     int             `json:"product_id"`
	WarehouseId   int             `json:"warehouse_id"`
	TotalIncrease decimal.Decimal `json:"total_increase"`
	TotalDecrease decimal.Decimal `json:"total_decrease"`
	NetChange     decimal.Decimal `json:"net_change"`
	MovementCount int             `json:"movement_count"`
	CurrentStock  decimal.Decimal `json:"current_stock"`
}

// GetStockSummary aggregates ledger entries by movement type for one
// (product, warehouse) pair over an optional time window.
func GetStockSummary(ctx context.Context, productId int, warehouseId int, from *time.Time, to *time.Time) (*StockSummary, error) {
	filter := StockHistoryFilter{ProductId: &productId, WarehouseId: &warehouseId, From: from, To: to}
	entries, err := GetStockHistory(ctx, filter)
	if err != nil {
		return nil, err
	}
	summary := SummarizeMovements(productId, warehouseId, entries)

	current, err := GetProductStock(ctx, productId, warehouseId)
	if err == nil {
		summary.CurrentStock = current
	}
	return summary, nil
}

// SummarizeMovements is the pure aggregation behind GetStockSummary.
func SummarizeMovements(productId int, warehouseId int, entries []*StockMovement) *StockSummary {
	summary := StockSummary{
		ProductId:     productId,
		WarehouseId:   warehouseId,
		TotalIncrease: decimal.Zero,
		TotalDecrease: decimal.Zero,
		NetChange:     decimal.Zero,
		CurrentStock:  decimal.Zero,
	}
	for _, e := range entries {
		summary.MovementCount++
		switch e.MovementType {
		case StockMovementIncrease:
			summary.TotalIncrease = summary.TotalIncrease.Add(e.Qty)
			summary.NetChange = summary.NetChange.Add(e.Qty)
		case StockMovementDecrease:
			summary.TotalDecrease = summary.TotalDecrease.Add(e.Qty)
			summary.NetChange = summary.NetChange.Sub(e.Qty)
		}
	}
	return &summary
}

// ValidateMovementChain checks the ledger invariants over entries of a
// single (product, warehouse) pair ordered by creation: arithmetic per
// entry, non-negativity, and continuity between consecutive entries.
func ValidateMovementChain(entries []*StockMovement) error {
	for i, e := range entries {
		var expected decimal.Decimal
		switch e.MovementType {
		case StockMovementIncrease:
			expected = e.PreviousStock.Add(e.Qty)
		case StockMovementDecrease:
			expected = e.PreviousStock.Sub(e.Qty)
		default:
			return fmt.Errorf("entry %d: unknown movement type %q", i, e.MovementType)
		}
		if !e.NewStock.Equal(expected) {
			return fmt.Errorf("entry %d: new stock %s does not match previous %s with qty %s",
				i, e.NewStock.String(), e.PreviousStock.String(), e.Qty.String())
		}
		if e.NewStock.IsNegative() {
			return fmt.Errorf("entry %d: negative stock %s", i, e.NewStock.String())
		}
		if i > 0 && !e.PreviousStock.Equal(entries[i-1].NewStock) {
			return fmt.Errorf("entry %d: previous stock %s breaks chain from %s",
				i, e.PreviousStock.String(), entries[i-1].NewStock.String())
		}
	}
	return nil
}
