package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
)

type Order struct {
	ID                  int               `gorm:"primary_key" json:"id"`
	OrderNumber         string            `gorm:"size:100;uniqueIndex;not null" json:"order_number"`
	SellerId            int               `gorm:"index;not null" json:"seller_id" binding:"required"`
	WarehouseId         int               `gorm:"index;not null" json:"warehouse_id" binding:"required"`
	CustomerName        string            `gorm:"size:255;not null" json:"customer_name"`
	CustomerPhone       string            `gorm:"size:50;index;not null" json:"customer_phone"`
	CustomerAddress     string            `gorm:"size:255" json:"customer_address"`
	Status              OrderStatus       `gorm:"size:50;index;not null;default:pending" json:"status"`
	Details             []OrderDetail     `gorm:"foreignKey:OrderId" json:"details"`
	Adjustments         []PriceAdjustment `gorm:"foreignKey:OrderId" json:"adjustments"`
	TotalPrice          decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	FinalTotalPrice     *decimal.Decimal  `gorm:"type:decimal(20,4)" json:"final_total_price"`
	TotalDiscountAmount decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total_discount_amount"`
	StatusChangedBy     int               `json:"status_changed_by"`
	StatusChangedAt     *time.Time        `json:"status_changed_at"`
	StatusComment       string            `gorm:"type:text" json:"status_comment"`
	DeliveredAt         *time.Time        `gorm:"index" json:"delivered_at"`
	CreatedAt           time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderDetail struct {
	ID            int             `gorm:"primary_key" json:"id"`
	OrderId       int             `gorm:"index;not null" json:"order_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id" binding:"required"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty" binding:"required"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	OriginalPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"original_price"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecomputeTotalPrice returns the sum of unit price x qty over current lines.
// TotalPrice must equal this after every write; discounts change line unit
// prices first, so the recomputed total is already net of adjustments.
func (o *Order) RecomputeTotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, d := range o.Details {
		total = total.Add(d.UnitPrice.Mul(d.Qty))
	}
	return total
}

type NewOrderDetail struct {
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

type NewOrder struct {
	SellerId        int              `json:"seller_id" binding:"required"`
	WarehouseId     int              `json:"warehouse_id" binding:"required"`
	CustomerName    string           `json:"customer_name" binding:"required"`
	CustomerPhone   string           `json:"customer_phone" binding:"required"`
	CustomerAddress string           `json:"customer_address"`
	Details         []NewOrderDetail `json:"details" binding:"required,dive"`
}

func (input *NewOrder) validate(ctx context.Context) error {
	if len(input.Details) == 0 {
		return utils.NewValidationError("order must have at least one line")
	}
	if err := utils.ValidatePhoneNumber(input.CustomerPhone, utils.CountryCode); err != nil {
		return utils.NewValidationError("invalid customer phone number")
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
		if d.UnitPrice.IsNegative() {
			return utils.NewValidationError(fmt.Sprintf("product %d: unit price cannot be negative", d.ProductId))
		}
		productIds = append(productIds, d.ProductId)
	}
	if err := utils.ValidateResourcesId[Product](ctx, productIds); err != nil {
		return errors.New("product not found")
	}
	return nil
}

// CreateOrder creates a pending order. The duplicate detector (if configured)
// is consulted exactly once here: a positive match parks the order in the
// system-only double status instead of pending.
func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	db := config.GetDB()

	userId, _, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	order := Order{
		OrderNumber:     newOrderNumber(),
		SellerId:        input.SellerId,
		WarehouseId:     input.WarehouseId,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		CustomerAddress: input.CustomerAddress,
		Status:          OrderStatusPending,
	}
	for _, d := range input.Details {
		order.Details = append(order.Details, OrderDetail{
			ProductId:     d.ProductId,
			Qty:           d.Qty,
			UnitPrice:     d.UnitPrice,
			OriginalPrice: d.UnitPrice,
		})
	}
	order.TotalPrice = order.RecomputeTotalPrice()

	statusComment := ""
	if detector := GetDuplicateDetector(); detector != nil {
		result, derr := detector.Detect(ctx, input, order.TotalPrice)
		if derr != nil {
			// Classifier failure must not block order intake.
			config.LogError(config.GetLogger(), "order.go", "CreateOrder", "duplicate detection", input, derr)
		} else if result != nil && result.IsDuplicate {
			order.Status = OrderStatusDouble
			matches := make([]string, 0, len(result.DuplicateOrders))
			for _, m := range result.DuplicateOrders {
				matches = append(matches, fmt.Sprintf("%s (rule: %s)", m.OrderNumber, m.MatchedRule))
			}
			statusComment = "flagged as duplicate of " + strings.Join(matches, ", ")
		}
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.Create(&order).Error; err != nil {
		return nil, err
	}
	if order.Status == OrderStatusDouble {
		now := time.Now()
		history := OrderStatusHistory{
			OrderId:         order.ID,
			PreviousStatus:  OrderStatusPending,
			CurrentStatus:   OrderStatusDouble,
			ChangedBy:       userId,
			Comment:         statusComment,
			AutomaticChange: utils.NewTrue(),
		}
		if err := tx.Create(&history).Error; err != nil {
			return nil, err
		}
		order.StatusComment = statusComment
		order.StatusChangedAt = &now
		if err := tx.Model(&Order{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"status_comment":    statusComment,
				"status_changed_at": now,
			}).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func newOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	return utils.FetchModel[Order](ctx, id, "Details", "Adjustments")
}

type StatusTransitionInput struct {
	Status    OrderStatus    `json:"status" binding:"required"`
	Comment   string         `json:"comment"`
	Discounts []DiscountLine `json:"discounts"`
	Automatic bool           `json:"automatic"`
}

// TransitionOrderStatus moves an order through the status state machine.
//
// The transition (status fields, history entry, price adjustments and the
// pending stock effects implied by the new status) commits atomically.
// Applying the stock effects to the ledger is best-effort afterwards: a
// failure is logged and retried by the reconciler, never rolled back into
// the already-committed status change.
func TransitionOrderStatus(ctx context.Context, orderId int, input *StatusTransitionInput) (*Order, *OrderStatusHistory, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	userId, role, err := ActorFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !RoleCanChangeOrderStatus(role) {
		return nil, nil, utils.ErrorUnauthorized
	}

	// Redis lease is a best-effort fast path: a concurrent transition on the
	// same order surfaces as Conflict without burning a DB connection. The
	// MySQL advisory lock below is the serialization of record.
	lock, lockErr := utils.ObtainKeyLock(ctx, orderLockKey(orderId), 30*time.Second)
	if errors.Is(lockErr, utils.ErrorConflict) {
		return nil, nil, utils.ErrorConflict
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

	if err := AcquireRowLock(tx, orderLockKey(orderId)); err != nil {
		return nil, nil, utils.ErrorConflict
	}
	defer ReleaseRowLock(tx, orderLockKey(orderId))

	var order Order
	if err := tx.WithContext(ctx).Preload("Details").First(&order, orderId).Error; err != nil {
		return nil, nil, utils.ErrorRecordNotFound
	}

	// Calling transition twice with the same target and no discount payload
	// is a detectable no-op; nothing is written.
	if order.Status == input.Status && len(input.Discounts) == 0 {
		return &order, nil, nil
	}

	if err := CheckOrderTransition(order.Status, input.Status); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	adjustments, discountSummary, err := ApplyDiscountLines(&order, input.Discounts, userId, now)
	if err != nil {
		return nil, nil, err
	}

	comment := input.Comment
	if discountSummary != "" {
		if comment != "" {
			comment += " | "
		}
		comment += discountSummary
	}

	previousStatus := order.Status
	order.Status = input.Status
	order.StatusChangedBy = userId
	order.StatusChangedAt = &now
	order.StatusComment = comment
	order.TotalPrice = order.RecomputeTotalPrice()

	updates := map[string]interface{}{
		"status":                order.Status,
		"status_changed_by":     userId,
		"status_changed_at":     now,
		"status_comment":        comment,
		"total_price":           order.TotalPrice,
		"total_discount_amount": order.TotalDiscountAmount,
	}
	if order.FinalTotalPrice != nil {
		updates["final_total_price"] = *order.FinalTotalPrice
	}
	if input.Status == OrderStatusDelivered {
		updates["delivered_at"] = now
		order.DeliveredAt = &now
	}
	if err := tx.Model(&Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, nil, err
	}

	for i := range adjustments {
		adjustments[i].OrderId = order.ID
		if err := tx.Create(&adjustments[i]).Error; err != nil {
			return nil, nil, err
		}
		// Discounted line prices are persisted on the details as well.
	}
	if len(adjustments) > 0 {
		for _, d := range order.Details {
			if err := tx.Model(&OrderDetail{}).Where("id = ?", d.ID).
				Update("unit_price", d.UnitPrice).Error; err != nil {
				return nil, nil, err
			}
		}
	}

	history := OrderStatusHistory{
		OrderId:         order.ID,
		PreviousStatus:  previousStatus,
		CurrentStatus:   order.Status,
		ChangedBy:       userId,
		ChangedByRole:   role,
		Comment:         comment,
		AutomaticChange: &input.Automatic,
	}
	if err := tx.Create(&history).Error; err != nil {
		return nil, nil, err
	}

	if spec, ok := MovementForStatus(input.Status); ok && previousStatus != input.Status {
		for _, d := range order.Details {
			effect := PendingStockEffect{
				ReferenceType: StockReferenceOrder,
				ReferenceId:   order.ID,
				ProductId:     d.ProductId,
				WarehouseId:   order.WarehouseId,
				MovementType:  spec.Type,
				Reason:        spec.Reason,
				Qty:           d.Qty,
				RequestedBy:   userId,
				Status:        StockEffectPending,
				NextAttemptAt: now,
			}
			if err := tx.Create(&effect).Error; err != nil {
				return nil, nil, err
			}
		}
	}

	if err := EnqueueNotificationTx(tx, order.SellerId, "order_status",
		"Order status updated",
		fmt.Sprintf("Order %s moved from %s to %s", order.OrderNumber, previousStatus, order.Status),
		fmt.Sprintf("/orders/%d", order.ID)); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}

	// Best-effort immediate apply; the reconciler retries whatever failed.
	if applyErr := ApplyPendingStockEffects(ctx, StockReferenceOrder, order.ID); applyErr != nil {
		config.LogError(logger, "order.go", "TransitionOrderStatus", "apply stock effects", order.ID, applyErr)
	}

	return &order, &history, nil
}
