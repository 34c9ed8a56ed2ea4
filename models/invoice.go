package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceStatusGenerated InvoiceStatus = "GENERATED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
)

// Invoice bills a seller for delivered orders and expeditions of one
// warehouse and period. Its order/expedition sets are immutable after
// creation; the membership rows enforce that no order or expedition is ever
// referenced by two invoices of the same seller+warehouse.
type Invoice struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	SellerId    int                 `gorm:"index;not null" json:"seller_id"`
	WarehouseId int                 `gorm:"index;not null" json:"warehouse_id"`
	PeriodStart time.Time           `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time           `gorm:"not null" json:"period_end"`
	Status      InvoiceStatus       `gorm:"type:enum('GENERATED','PAID');default:GENERATED" json:"status"`
	TotalSales  decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_sales"`
	TotalFees   decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_fees"`
	NetAmount   decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"net_amount"`
	Notes       string              `gorm:"type:text" json:"notes"`
	CreatedBy   int                 `json:"created_by"`
	Fees        []InvoiceFee        `gorm:"foreignKey:InvoiceId" json:"fees"`
	Orders      []InvoiceOrder      `gorm:"foreignKey:InvoiceId" json:"orders"`
	Expeditions []InvoiceExpedition `gorm:"foreignKey:InvoiceId" json:"expeditions"`
	PaidAt      *time.Time          `json:"paid_at"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceFee struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"index;not null" json:"invoice_id"`
	Label     string          `gorm:"size:255;not null" json:"label"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
}

// InvoiceOrder is the set-membership index behind idempotent billing: the
// unique key makes a second invoice referencing the same order a duplicate
// key error instead of a silent double bill.
type InvoiceOrder struct {
	ID          int `gorm:"primary_key" json:"id"`
	InvoiceId   int `gorm:"index;not null" json:"invoice_id"`
	SellerId    int `gorm:"not null;uniqueIndex:uniq_invoice_order" json:"seller_id"`
	WarehouseId int `gorm:"not null;uniqueIndex:uniq_invoice_order" json:"warehouse_id"`
	OrderId     int `gorm:"not null;uniqueIndex:uniq_invoice_order" json:"order_id"`
}

type InvoiceExpedition struct {
	ID           int `gorm:"primary_key" json:"id"`
	InvoiceId    int `gorm:"index;not null" json:"invoice_id"`
	SellerId     int `gorm:"not null;uniqueIndex:uniq_invoice_expedition" json:"seller_id"`
	WarehouseId  int `gorm:"not null;uniqueIndex:uniq_invoice_expedition" json:"warehouse_id"`
	ExpeditionId int `gorm:"not null;uniqueIndex:uniq_invoice_expedition" json:"expedition_id"`
}

type InvoicePeriodInput struct {
	SellerId    int       `json:"seller_id" binding:"required"`
	WarehouseId int       `json:"warehouse_id" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

func (input *InvoicePeriodInput) validate(ctx context.Context) error {
	if !input.PeriodStart.Before(input.PeriodEnd) {
		return utils.NewValidationError("period start must be before period end")
	}
	if err := utils.ValidateResourceId[Seller](ctx, input.SellerId); err != nil {
		return errors.New("seller not found")
	}
	if err := utils.ValidateResourceId[Warehouse](ctx, input.WarehouseId); err != nil {
		return errors.New("warehouse not found")
	}
	return nil
}

type ProductSales struct {
	ProductId  int             `json:"product_id"`
	Qty        decimal.Decimal `json:"qty"`
	TotalSales decimal.Decimal `json:"total_sales"`
}

type InvoicePreview struct {
	SellerId              int             `json:"seller_id"`
	WarehouseId           int             `json:"warehouse_id"`
	PeriodStart           time.Time       `json:"period_start"`
	PeriodEnd             time.Time       `json:"period_end"`
	OrderIds              []int           `json:"order_ids"`
	ExpeditionIds         []int           `json:"expedition_ids"`
	UniqueProductCount    int             `json:"unique_product_count"`
	TotalQty              decimal.Decimal `json:"total_qty"`
	TotalSales            decimal.Decimal `json:"total_sales"`
	ProductBreakdown      []ProductSales  `json:"product_breakdown"`
	ExpeditionFeeTotal    decimal.Decimal `json:"expedition_fee_total"`
	UnpaidExpeditionTotal decimal.Decimal `json:"unpaid_expedition_total"`
}

// BuildInvoicePreview aggregates billable candidates after removing already
// invoiced ids. Pure: same inputs always produce the same aggregate, which
// is what makes repeated previews read-idempotent.
func BuildInvoicePreview(input *InvoicePeriodInput, orders []*Order, expeditions []*Expedition,
	billedOrderIds map[int]bool, billedExpeditionIds map[int]bool) *InvoicePreview {

	preview := InvoicePreview{
		SellerId:              input.SellerId,
		WarehouseId:           input.WarehouseId,
		PeriodStart:           input.PeriodStart,
		PeriodEnd:             input.PeriodEnd,
		OrderIds:              []int{},
		ExpeditionIds:         []int{},
		TotalQty:              decimal.Zero,
		TotalSales:            decimal.Zero,
		ExpeditionFeeTotal:    decimal.Zero,
		UnpaidExpeditionTotal: decimal.Zero,
	}

	salesByProduct := map[int]*ProductSales{}
	productOrder := []int{}

	for _, order := range orders {
		if billedOrderIds[order.ID] {
			continue
		}
		preview.OrderIds = append(preview.OrderIds, order.ID)
		for _, d := range order.Details {
			lineSales := d.UnitPrice.Mul(d.Qty)
			preview.TotalQty = preview.TotalQty.Add(d.Qty)
			preview.TotalSales = preview.TotalSales.Add(lineSales)

			ps, ok := salesByProduct[d.ProductId]
			if !ok {
				ps = &ProductSales{ProductId: d.ProductId, Qty: decimal.Zero, TotalSales: decimal.Zero}
				salesByProduct[d.ProductId] = ps
				productOrder = append(productOrder, d.ProductId)
			}
			ps.Qty = ps.Qty.Add(d.Qty)
			ps.TotalSales = ps.TotalSales.Add(lineSales)
		}
	}

	for _, expedition := range expeditions {
		if billedExpeditionIds[expedition.ID] {
			continue
		}
		preview.ExpeditionIds = append(preview.ExpeditionIds, expedition.ID)
		preview.ExpeditionFeeTotal = preview.ExpeditionFeeTotal.Add(expedition.Fee)
		if !utils.DereferencePtr(expedition.IsPaid) {
			// Informational only; never added to the bill.
			preview.UnpaidExpeditionTotal = preview.UnpaidExpeditionTotal.Add(expedition.Fee)
		}
	}

	preview.UniqueProductCount = len(productOrder)
	for _, productId := range productOrder {
		preview.ProductBreakdown = append(preview.ProductBreakdown, *salesByProduct[productId])
	}
	return &preview
}

func fetchInvoiceCandidates(ctx context.Context, tx *gorm.DB, input *InvoicePeriodInput) ([]*Order, []*Expedition, map[int]bool, map[int]bool, error) {
	var orders []*Order
	if err := tx.WithContext(ctx).Preload("Details").
		Where("seller_id = ? AND warehouse_id = ? AND status = ? AND delivered_at BETWEEN ? AND ?",
			input.SellerId, input.WarehouseId, OrderStatusDelivered, input.PeriodStart, input.PeriodEnd).
		Order("id").
		Find(&orders).Error; err != nil {
		return nil, nil, nil, nil, err
	}

	var expeditions []*Expedition
	if err := tx.WithContext(ctx).
		Where("seller_id = ? AND warehouse_id = ? AND status = ? AND delivered_at BETWEEN ? AND ?",
			input.SellerId, input.WarehouseId, ExpeditionStatusDelivered, input.PeriodStart, input.PeriodEnd).
		Order("id").
		Find(&expeditions).Error; err != nil {
		return nil, nil, nil, nil, err
	}

	// Exclusion sets cover ALL prior invoices of this seller+warehouse,
	// whatever their period: that is the double-billing guarantee.
	var billedOrderRows []InvoiceOrder
	if err := tx.WithContext(ctx).
		Where("seller_id = ? AND warehouse_id = ?", input.SellerId, input.WarehouseId).
		Find(&billedOrderRows).Error; err != nil {
		return nil, nil, nil, nil, err
	}
	billedOrderIds := make(map[int]bool, len(billedOrderRows))
	for _, row := range billedOrderRows {
		billedOrderIds[row.OrderId] = true
	}

	var billedExpeditionRows []InvoiceExpedition
	if err := tx.WithContext(ctx).
		Where("seller_id = ? AND warehouse_id = ?", input.SellerId, input.WarehouseId).
		Find(&billedExpeditionRows).Error; err != nil {
		return nil, nil, nil, nil, err
	}
	billedExpeditionIds := make(map[int]bool, len(billedExpeditionRows))
	for _, row := range billedExpeditionRows {
		billedExpeditionIds[row.ExpeditionId] = true
	}

	return orders, expeditions, billedOrderIds, billedExpeditionIds, nil
}

// GenerateInvoicePreview aggregates the billable candidates of one
// seller+warehouse+period without writing anything.
func GenerateInvoicePreview(ctx context.Context, input *InvoicePeriodInput) (*InvoicePreview, error) {
	db := config.GetDB()

	_, role, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !RoleCanManageStock(role) {
		return nil, utils.ErrorUnauthorized
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	orders, expeditions, billedOrderIds, billedExpeditionIds, err := fetchInvoiceCandidates(ctx, db, input)
	if err != nil {
		return nil, err
	}
	return BuildInvoicePreview(input, orders, expeditions, billedOrderIds, billedExpeditionIds), nil
}

type NewInvoiceFee struct {
	Label  string          `json:"label" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type NewInvoice struct {
	InvoicePeriodInput
	Fees  []NewInvoiceFee `json:"fees"`
	Notes string          `json:"notes"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// GenerateInvoice re-runs the preview inside the transaction so the
// exclusion set is fetched immediately before persisting, then writes the
// invoice and its membership rows atomically. A concurrent generation that
// captured an overlapping candidate loses on the unique key and surfaces as
// Conflict.
func GenerateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	db := config.GetDB()

	userId, role, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !RoleCanManageStock(role) {
		return nil, utils.ErrorUnauthorized
	}
	if err := input.InvoicePeriodInput.validate(ctx); err != nil {
		return nil, err
	}
	for _, fee := range input.Fees {
		if fee.Amount.IsNegative() {
			return nil, utils.NewValidationError(fmt.Sprintf("fee %q cannot be negative", fee.Label))
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

	lockKey := invoiceLockKey(input.SellerId, input.WarehouseId)
	if err := AcquireRowLock(tx, lockKey); err != nil {
		return nil, utils.ErrorConflict
	}
	defer ReleaseRowLock(tx, lockKey)

	orders, expeditions, billedOrderIds, billedExpeditionIds, err := fetchInvoiceCandidates(ctx, tx, &input.InvoicePeriodInput)
	if err != nil {
		return nil, err
	}
	preview := BuildInvoicePreview(&input.InvoicePeriodInput, orders, expeditions, billedOrderIds, billedExpeditionIds)

	if len(preview.OrderIds) == 0 && len(preview.ExpeditionIds) == 0 {
		return nil, utils.NewValidationError("nothing to invoice for this period")
	}

	totalFees := decimal.Zero
	for _, fee := range input.Fees {
		totalFees = totalFees.Add(fee.Amount)
	}

	invoice := Invoice{
		SellerId:    input.SellerId,
		WarehouseId: input.WarehouseId,
		PeriodStart: input.PeriodStart,
		PeriodEnd:   input.PeriodEnd,
		Status:      InvoiceStatusGenerated,
		TotalSales:  preview.TotalSales,
		TotalFees:   totalFees,
		NetAmount:   preview.TotalSales.Sub(totalFees),
		Notes:       input.Notes,
		CreatedBy:   userId,
	}
	for _, fee := range input.Fees {
		invoice.Fees = append(invoice.Fees, InvoiceFee{Label: fee.Label, Amount: fee.Amount})
	}
	for _, orderId := range preview.OrderIds {
		invoice.Orders = append(invoice.Orders, InvoiceOrder{
			SellerId:    input.SellerId,
			WarehouseId: input.WarehouseId,
			OrderId:     orderId,
		})
	}
	for _, expeditionId := range preview.ExpeditionIds {
		invoice.Expeditions = append(invoice.Expeditions, InvoiceExpedition{
			SellerId:     input.SellerId,
			WarehouseId:  input.WarehouseId,
			ExpeditionId: expeditionId,
		})
	}

	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.ErrorConflict
		}
		return nil, err
	}

	if err := EnqueueNotificationTx(tx, input.SellerId, "invoice_generated",
		"Invoice generated",
		fmt.Sprintf("Invoice #%d for period %s to %s: net %s",
			invoice.ID, input.PeriodStart.Format("2006-01-02"), input.PeriodEnd.Format("2006-01-02"), invoice.NetAmount.String()),
		fmt.Sprintf("/invoices/%d", invoice.ID)); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.ErrorConflict
		}
		return nil, err
	}
	return &invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	return utils.FetchModel[Invoice](ctx, id, "Fees", "Orders", "Expeditions")
}

// MarkInvoicePaid transitions GENERATED -> PAID. Id sets stay untouched.
func MarkInvoicePaid(ctx context.Context, id int) (*Invoice, error) {
	db := config.GetDB()

	_, role, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !RoleCanManageStock(role) {
		return nil, utils.ErrorUnauthorized
	}

	invoice, err := GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == InvoiceStatusPaid {
		return invoice, nil
	}

	now := time.Now()
	if err := db.WithContext(ctx).Model(&Invoice{}).
		Where("id = ? AND status = ?", id, InvoiceStatusGenerated).
		Updates(map[string]interface{}{"status": InvoiceStatusPaid, "paid_at": now}).Error; err != nil {
		return nil, err
	}
	invoice.Status = InvoiceStatusPaid
	invoice.PaidAt = &now
	return invoice, nil
}
