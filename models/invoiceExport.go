package models

import (
	"context"
	"fmt"
	"io"

	"github.com/warelogic/logistics_backend/config"
	"github.com/xuri/excelize/v2"
)

// ExportInvoiceXlsx writes the invoice as an xlsx workbook: a summary block,
// one row per billed order line and one per billed expedition.
func ExportInvoiceXlsx(ctx context.Context, id int, w io.Writer) error {
	invoice, err := GetInvoice(ctx, id)
	if err != nil {
		return err
	}

	db := config.GetDB()

	orderIds := make([]int, 0, len(invoice.Orders))
	for _, m := range invoice.Orders {
		orderIds = append(orderIds, m.OrderId)
	}
	var orders []*Order
	if len(orderIds) > 0 {
		if err := db.WithContext(ctx).Preload("Details").
			Where("id IN ?", orderIds).Order("id").Find(&orders).Error; err != nil {
			return err
		}
	}

	expeditionIds := make([]int, 0, len(invoice.Expeditions))
	for _, m := range invoice.Expeditions {
		expeditionIds = append(expeditionIds, m.ExpeditionId)
	}
	var expeditions []*Expedition
	if len(expeditionIds) > 0 {
		if err := db.WithContext(ctx).
			Where("id IN ?", expeditionIds).Order("id").Find(&expeditions).Error; err != nil {
			return err
		}
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	f.SetCellValue(sheet, "A1", "Invoice")
	f.SetCellValue(sheet, "B1", invoice.ID)
	f.SetCellValue(sheet, "A2", "Period")
	f.SetCellValue(sheet, "B2", invoice.PeriodStart.Format("2006-01-02"))
	f.SetCellValue(sheet, "C2", invoice.PeriodEnd.Format("2006-01-02"))
	f.SetCellValue(sheet, "A3", "TotalSales")
	f.SetCellValue(sheet, "B3", invoice.TotalSales.String())
	f.SetCellValue(sheet, "A4", "TotalFees")
	f.SetCellValue(sheet, "B4", invoice.TotalFees.String())
	f.SetCellValue(sheet, "A5", "NetAmount")
	f.SetCellValue(sheet, "B5", invoice.NetAmount.String())

	row := 7
	f.SetCellValue(sheet, "A"+fmt.Sprint(row), "OrderNumber")
	f.SetCellValue(sheet, "B"+fmt.Sprint(row), "ProductId")
	f.SetCellValue(sheet, "C"+fmt.Sprint(row), "Qty")
	f.SetCellValue(sheet, "D"+fmt.Sprint(row), "UnitPrice")
	f.SetCellValue(sheet, "E"+fmt.Sprint(row), "LineTotal")
	row++
	for _, order := range orders {
		for _, d := range order.Details {
			f.SetCellValue(sheet, "A"+fmt.Sprint(row), order.OrderNumber)
			f.SetCellValue(sheet, "B"+fmt.Sprint(row), d.ProductId)
			f.SetCellValue(sheet, "C"+fmt.Sprint(row), d.Qty.String())
			f.SetCellValue(sheet, "D"+fmt.Sprint(row), d.UnitPrice.String())
			f.SetCellValue(sheet, "E"+fmt.Sprint(row), d.UnitPrice.Mul(d.Qty).String())
			row++
		}
	}

	row++
	f.SetCellValue(sheet, "A"+fmt.Sprint(row), "ExpeditionNumber")
	f.SetCellValue(sheet, "B"+fmt.Sprint(row), "Fee")
	f.SetCellValue(sheet, "C"+fmt.Sprint(row), "Paid")
	row++
	for _, expedition := range expeditions {
		f.SetCellValue(sheet, "A"+fmt.Sprint(row), expedition.ExpeditionNumber)
		f.SetCellValue(sheet, "B"+fmt.Sprint(row), expedition.Fee.String())
		paid := expedition.IsPaid != nil && *expedition.IsPaid
		f.SetCellValue(sheet, "C"+fmt.Sprint(row), paid)
		row++
	}

	row++
	f.SetCellValue(sheet, "A"+fmt.Sprint(row), "FeeLabel")
	f.SetCellValue(sheet, "B"+fmt.Sprint(row), "Amount")
	row++
	for _, fee := range invoice.Fees {
		f.SetCellValue(sheet, "A"+fmt.Sprint(row), fee.Label)
		f.SetCellValue(sheet, "B"+fmt.Sprint(row), fee.Amount.String())
		row++
	}

	return f.Write(w)
}
