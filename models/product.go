package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
	"gorm.io/gorm"
)

type ProductStatus string

const (
	ProductStatusActive     ProductStatus = "active"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
	ProductStatusDisabled   ProductStatus = "disabled"
)

type Product struct {
	ID        int                     `gorm:"primary_key" json:"id"`
	SellerId  int                     `gorm:"index;not null" json:"seller_id" binding:"required"`
	Name      string                  `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku       string                  `gorm:"size:100;index" json:"sku"`
	Price     decimal.Decimal         `gorm:"type:decimal(20,4);default:0" json:"price"`
	Status    ProductStatus           `gorm:"type:enum('active','out_of_stock','disabled');default:active" json:"status"`
	Stocks    []ProductWarehouseStock `gorm:"foreignKey:ProductId" json:"stocks"`
	CreatedAt time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductWarehouseStock is the materialized current-stock projection for one
// (product, warehouse) pair. It is derivable from the stock_movements ledger
// and must never diverge from it under correct operation; writers go through
// RecordStockMovement which holds the per-pair lease.
type ProductWarehouseStock struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProductId   int             `gorm:"not null;uniqueIndex:uniq_product_warehouse" json:"product_id"`
	WarehouseId int             `gorm:"not null;uniqueIndex:uniq_product_warehouse" json:"warehouse_id"`
	Stock       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id, "Stocks")
}

// GetProductStock returns the projected stock for one (product, warehouse)
// pair, or zero when no projection row exists yet.
func GetProductStock(ctx context.Context, productId int, warehouseId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var row ProductWarehouseStock
	err := db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productId, warehouseId).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return row.Stock, nil
}
