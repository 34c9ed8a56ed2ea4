package models

import (
	"context"
	"time"

	"github.com/warelogic/logistics_backend/config"
)

// OrderStatusHistory is the append-only sidecar log of status transitions.
// One row per transition, including same-status discount events.
type OrderStatusHistory struct {
	ID              int         `gorm:"primary_key" json:"id"`
	OrderId         int         `gorm:"index;not null" json:"order_id"`
	PreviousStatus  OrderStatus `gorm:"size:50;not null" json:"previous_status"`
	CurrentStatus   OrderStatus `gorm:"size:50;not null" json:"current_status"`
	ChangedBy       int         `gorm:"not null" json:"changed_by"`
	ChangedByRole   UserRole    `gorm:"size:50" json:"changed_by_role"`
	Comment         string      `gorm:"type:text" json:"comment"`
	AutomaticChange *bool       `gorm:"not null;default:false" json:"automatic_change"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func GetOrderStatusHistory(ctx context.Context, orderId int) ([]*OrderStatusHistory, error) {
	db := config.GetDB()
	var entries []*OrderStatusHistory
	err := db.WithContext(ctx).
		Where("order_id = ?", orderId).
		Order("created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
