package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
)

type ExpeditionStatus string

const (
	ExpeditionStatusPending   ExpeditionStatus = "pending"
	ExpeditionStatusInTransit ExpeditionStatus = "in_transit"
	ExpeditionStatusDelivered ExpeditionStatus = "delivered"
	ExpeditionStatusCancelled ExpeditionStatus = "cancelled"
)

// expeditionTransitions is the allowed-transition table for the inbound
// shipment lifecycle. Delivered and cancelled are terminal.
var expeditionTransitions = map[ExpeditionStatus][]ExpeditionStatus{
	ExpeditionStatusPending:   {ExpeditionStatusInTransit, ExpeditionStatusCancelled},
	ExpeditionStatusInTransit: {ExpeditionStatusDelivered, ExpeditionStatusCancelled},
}

// Expedition is a seller's inbound shipment of inventory into a warehouse.
// Delivery INCREASEs warehouse stock per line; the handling fee is billed to
// the seller through invoices.
type Expedition struct {
	ID               int                `gorm:"primary_key" json:"id"`
	ExpeditionNumber string             `gorm:"size:100;uniqueIndex;not null" json:"expedition_number"`
	SellerId         int                `gorm:"index;not null" json:"seller_id" binding:"required"`
	WarehouseId      int                `gorm:"index;not null" json:"warehouse_id" binding:"required"`
	Status           ExpeditionStatus   `gorm:"type:enum('pending','in_transit','delivered','cancelled');default:pending;index" json:"status"`
	Details          []ExpeditionDetail `gorm:"foreignKey:ExpeditionId" json:"details"`
	Fee              decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"fee"`
	IsPaid           *bool              `gorm:"not null;default:false" json:"is_paid"`
	DeliveredAt      *time.Time         `gorm:"index" json:"delivered_at"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type ExpeditionDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ExpeditionId int             `gorm:"index;not null" json:"expedition_id"`
	ProductId    int             `gorm:"index;not null" json:"product_id" binding:"required"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty" binding:"required"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewExpeditionDetail struct {
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
}

type NewExpedition struct {
	SellerId    int                   `json:"seller_id" binding:"required"`
	WarehouseId int                   `json:"warehouse_id" binding:"required"`
	Fee         decimal.Decimal       `json:"fee"`
	Details     []NewExpeditionDetail `json:"details" binding:"required,dive"`
}

func (input *NewExpedition) validate(ctx context.Context) error {
	if len(input.Details) == 0 {
		return utils.NewValidationError("expedition must have at least one line")
	}
	if input.Fee.IsNegative() {
		return utils.NewValidationError("fee cannot be negative")
	}
	if err := utils.ValidateResourceId[Seller](ctx, input.SellerId); err != nil {
		return errors.New("seller not found")
	}
	if err := utils.ValidateResourceId[Warehouse](ctx, input.WarehouseId); err != nil {
		return errors.New("warehouse not found")
	}
	productIds := make([]int, 0, len(input.Details))
	for _, d := range input.Details {
		if !d.Qty.IsPositive() {
			return utils.NewValidationError(fmt.Sprintf("product %d: qty must be positive", d.ProductId))
		}
		productIds = append(productIds, d.ProductId)
	}
	if err := utils.ValidateResourcesId[Product](ctx, productIds); err != nil {
		return errors.New("product not found")
	}
	return nil
}

func CreateExpedition(ctx context.Context, input *NewExpedition) (*Expedition, error) {
	db := config.GetDB()

	if _, _, err := ActorFromContext(ctx); err != nil {
		return nil, err
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	expedition := Expedition{
		ExpeditionNumber: fmt.Sprintf("EXP-%d", time.Now().UnixNano()),
		SellerId:         input.SellerId,
		WarehouseId:      input.WarehouseId,
		Status:           ExpeditionStatusPending,
		Fee:              input.Fee,
		IsPaid:           utils.NewFalse(),
	}
	for _, d := range input.Details {
		expedition.Details = append(expedition.Details, ExpeditionDetail{
			ProductId: d.ProductId,
			Qty:       d.Qty,
		})
	}

	if err := db.WithContext(ctx).Create(&expedition).Error; err != nil {
		return nil, err
	}
	return &expedition, nil
}

func GetExpedition(ctx context.Context, id int) (*Expedition, error) {
	return utils.FetchModel[Expedition](ctx, id, "Details")
}

// TransitionExpeditionStatus moves an expedition through its lifecycle.
// Entering delivered stamps DeliveredAt and enqueues an INCREASE stock
// effect per line, applied best-effort after commit like order effects.
func TransitionExpeditionStatus(ctx context.Context, expeditionId int, requested ExpeditionStatus, comment string) (*Expedition, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	userId, role, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !RoleCanChangeOrderStatus(role) && role != UserRoleProvider {
		return nil, utils.ErrorUnauthorized
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	lockKey := fmt.Sprintf("expedition:%d", expeditionId)
	if err := AcquireRowLock(tx, lockKey); err != nil {
		return nil, utils.ErrorConflict
	}
	defer ReleaseRowLock(tx, lockKey)

	var expedition Expedition
	if err := tx.WithContext(ctx).Preload("Details").First(&expedition, expeditionId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	if expedition.Status == requested {
		return &expedition, nil
	}
	allowed := false
	for _, next := range expeditionTransitions[expedition.Status] {
		if next == requested {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, utils.NewValidationError(fmt.Sprintf("expedition cannot transition from %q to %q", expedition.Status, requested))
	}

	now := time.Now()
	updates := map[string]interface{}{"status": requested}
	if requested == ExpeditionStatusDelivered {
		updates["delivered_at"] = now
		expedition.DeliveredAt = &now
	}
	if err := tx.Model(&Expedition{}).Where("id = ?", expedition.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	expedition.Status = requested

	if requested == ExpeditionStatusDelivered {
		for _, d := range expedition.Details {
			effect := PendingStockEffect{
				ReferenceType: StockReferenceExpedition,
				ReferenceId:   expedition.ID,
				ProductId:     d.ProductId,
				WarehouseId:   expedition.WarehouseId,
				MovementType:  StockMovementIncrease,
				Reason:        "expedition received",
				Qty:           d.Qty,
				RequestedBy:   userId,
				Status:        StockEffectPending,
				NextAttemptAt: now,
			}
			if err := tx.Create(&effect).Error; err != nil {
				return nil, err
			}
		}
	}

	if err := EnqueueNotificationTx(tx, expedition.SellerId, "expedition_status",
		"Expedition status updated",
		fmt.Sprintf("Expedition %s is now %s. %s", expedition.ExpeditionNumber, requested, comment),
		fmt.Sprintf("/expeditions/%d", expedition.ID)); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if requested == ExpeditionStatusDelivered {
		if applyErr := ApplyPendingStockEffects(ctx, StockReferenceExpedition, expedition.ID); applyErr != nil {
			config.LogError(logger, "expedition.go", "TransitionExpeditionStatus", "apply stock effects", expedition.ID, applyErr)
		}
	}

	return &expedition, nil
}
