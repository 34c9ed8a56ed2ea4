// stock-rebuild audits the current-stock projection against the movement
// ledger. For every (product, warehouse) pair it validates the ledger chain,
// replays it to a final quantity and compares with the projection row.
//
// Dry-run by default; pass -apply to rewrite diverged projection rows.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/stock-rebuild [-apply]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/models"
)

type stockPair struct {
	ProductId   int
	WarehouseId int
}

func main() {
	apply := flag.Bool("apply", false, "write corrected stock values (default: report only)")
	productId := flag.Int("product-id", 0, "optional: limit to one product")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var pairs []stockPair
	q := db.WithContext(ctx).Model(&models.StockMovement{}).
		Select("DISTINCT product_id, warehouse_id")
	if *productId > 0 {
		q = q.Where("product_id = ?", *productId)
	}
	if err := q.Scan(&pairs).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list ledger pairs: %v\n", err)
		os.Exit(1)
	}

	broken := 0
	diverged := 0
	for _, pair := range pairs {
		entries, err := models.GetStockHistory(ctx, models.StockHistoryFilter{
			ProductId:   &pair.ProductId,
			WarehouseId: &pair.WarehouseId,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "product=%d warehouse=%d: fetch failed: %v\n", pair.ProductId, pair.WarehouseId, err)
			os.Exit(1)
		}
		if err := models.ValidateMovementChain(entries); err != nil {
			broken++
			fmt.Printf("BROKEN CHAIN product=%d warehouse=%d: %v\n", pair.ProductId, pair.WarehouseId, err)
			continue
		}

		ledgerStock := decimal.Zero
		if len(entries) > 0 {
			ledgerStock = entries[len(entries)-1].NewStock
		}
		projected, err := models.GetProductStock(ctx, pair.ProductId, pair.WarehouseId)
		if err != nil {
			fmt.Fprintf(os.Stderr, "product=%d warehouse=%d: projection read failed: %v\n", pair.ProductId, pair.WarehouseId, err)
			os.Exit(1)
		}
		if projected.Equal(ledgerStock) {
			continue
		}

		diverged++
		fmt.Printf("DIVERGED product=%d warehouse=%d projection=%s ledger=%s\n",
			pair.ProductId, pair.WarehouseId, projected.String(), ledgerStock.String())
		if !*apply {
			continue
		}
		if err := db.WithContext(ctx).Model(&models.ProductWarehouseStock{}).
			Where("product_id = ? AND warehouse_id = ?", pair.ProductId, pair.WarehouseId).
			Update("stock", ledgerStock).Error; err != nil {
			fmt.Fprintf(os.Stderr, "product=%d warehouse=%d: fix failed: %v\n", pair.ProductId, pair.WarehouseId, err)
			os.Exit(1)
		}
		fmt.Printf("FIXED product=%d warehouse=%d -> %s\n", pair.ProductId, pair.WarehouseId, ledgerStock.String())
	}

	fmt.Printf("checked %d pairs: %d broken chains, %d diverged projections (apply=%v)\n",
		len(pairs), broken, diverged, *apply)
	if broken > 0 {
		os.Exit(3)
	}
}
