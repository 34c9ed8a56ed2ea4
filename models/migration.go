package models

import (
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{}, &Seller{}, &Warehouse{},
		&Product{}, &ProductWarehouseStock{},
		&Order{}, &OrderDetail{}, &OrderStatusHistory{}, &PriceAdjustment{},
		&Expedition{}, &ExpeditionDetail{},
		&StockMovement{}, &PendingStockEffect{},
		&Invoice{}, &InvoiceFee{}, &InvoiceOrder{}, &InvoiceExpedition{},
		&NotificationOutbox{},
	)
	utils.ErrorPanic(err)
}
