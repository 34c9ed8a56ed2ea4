// effects-retry requeues dead pending stock effects and optionally runs one
// reconcile pass immediately instead of waiting for the server's reconciler.
//
// Usage (from backend directory):
//
//	go run ./cmd/effects-retry -id 42
//	go run ./cmd/effects-retry -all-dead -run
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/models"
)

func main() {
	id := flag.Int("id", 0, "requeue one dead effect by id")
	allDead := flag.Bool("all-dead", false, "requeue every dead effect")
	runPass := flag.Bool("run", false, "run one reconcile pass after requeueing")
	flag.Parse()

	if *id == 0 && !*allDead && !*runPass {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -id, -all-dead or -run")
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	now := time.Now()
	requeue := map[string]interface{}{
		"status":          models.StockEffectPending,
		"attempts":        0,
		"last_error":      nil,
		"next_attempt_at": now,
		"locked_at":       nil,
		"locked_by":       nil,
	}

	if *id > 0 {
		res := db.WithContext(ctx).Model(&models.PendingStockEffect{}).
			Where("id = ? AND status = ?", *id, models.StockEffectDead).
			Updates(requeue)
		if res.Error != nil {
			fmt.Fprintf(os.Stderr, "failed to requeue effect %d: %v\n", *id, res.Error)
			os.Exit(1)
		}
		if res.RowsAffected == 0 {
			fmt.Fprintf(os.Stderr, "effect %d is not dead (or does not exist)\n", *id)
			os.Exit(3)
		}
		fmt.Printf("requeued effect %d\n", *id)
	}

	if *allDead {
		res := db.WithContext(ctx).Model(&models.PendingStockEffect{}).
			Where("status = ?", models.StockEffectDead).
			Updates(requeue)
		if res.Error != nil {
			fmt.Fprintf(os.Stderr, "failed to requeue dead effects: %v\n", res.Error)
			os.Exit(1)
		}
		fmt.Printf("requeued %d dead effects\n", res.RowsAffected)
	}

	if *runPass {
		applied, err := models.ApplyDuePendingStockEffects(ctx, 500)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile pass failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d effects\n", applied)
	}
}
