package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warelogic/logistics_backend/config"
	"github.com/warelogic/logistics_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StockEffectStatus string

const (
	StockEffectPending  StockEffectStatus = "pending"
	StockEffectApplying StockEffectStatus = "applying"
	StockEffectApplied  StockEffectStatus = "applied"
	StockEffectDead     StockEffectStatus = "dead"
)

const (
	maxStockEffectAttempts = 10
	stockEffectLockTimeout = 2 * time.Minute
)

// Identifies this process in locked_by, mirroring the outbox dispatcher id.
var stockEffectClaimant = uuid.NewString()

// PendingStockEffect is the durable half of a status transition's stock side
// effect: written in the same transaction as the transition, applied to the
// ledger afterwards. A failed apply is retried with backoff instead of being
// silently dropped.
type PendingStockEffect struct {
	ID            int                `gorm:"primary_key" json:"id"`
	ReferenceType StockReferenceType `gorm:"type:enum('order','expedition','manual');not null" json:"reference_type"`
	ReferenceId   int                `gorm:"index;not null" json:"reference_id"`
	ProductId     int                `gorm:"index;not null" json:"product_id"`
	WarehouseId   int                `gorm:"index;not null" json:"warehouse_id"`
	MovementType  StockMovementType  `gorm:"type:enum('INCREASE','DECREASE');not null" json:"movement_type"`
	Reason        string             `gorm:"size:255;not null" json:"reason"`
	Qty           decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"qty"`
	RequestedBy   int                `json:"requested_by"`
	Status        StockEffectStatus  `gorm:"type:enum('pending','applying','applied','dead');default:pending;index" json:"status"`
	Attempts      int                `gorm:"default:0" json:"attempts"`
	LastError     *string            `gorm:"type:text" json:"last_error"`
	NextAttemptAt time.Time          `gorm:"index;not null" json:"next_attempt_at"`
	LockedAt      *time.Time         `json:"locked_at"`
	LockedBy      *string            `gorm:"size:64" json:"locked_by"`
	AppliedAt     *time.Time         `json:"applied_at"`
	MovementId    *int               `json:"movement_id"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// claimStockEffects moves a batch of effects to `applying` inside one
// transaction, so the post-commit applier, the reconciler and other server
// instances never hold the same effect. Eligible:
// - pending and due
// - applying with a stale lock (the claimant crashed mid-apply)
func claimStockEffects(ctx context.Context, limit int, scope func(*gorm.DB) *gorm.DB) ([]*PendingStockEffect, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	staleBefore := now.Add(-stockEffectLockTimeout)

	var claimed []*PendingStockEffect
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`
				(status = ? AND next_attempt_at <= ?)
				OR
				(status = ? AND locked_at IS NOT NULL AND locked_at <= ?)
			`, StockEffectPending, now, StockEffectApplying, staleBefore).
			Order("id").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if scope != nil {
			q = scope(q)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = StockEffectApplying
			claimed[i].Attempts++
			if err := tx.Model(&PendingStockEffect{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"status":    StockEffectApplying,
					"attempts":  gorm.Expr("attempts + 1"),
					"locked_at": &now,
					"locked_by": &stockEffectClaimant,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ApplyPendingStockEffects applies the pending effects of one reference,
// claiming them first. Each effect is applied independently; the first
// failure is returned after the remaining ones were still attempted.
func ApplyPendingStockEffects(ctx context.Context, referenceType StockReferenceType, referenceId int) error {
	effects, err := claimStockEffects(ctx, 0, func(q *gorm.DB) *gorm.DB {
		return q.Where("reference_type = ? AND reference_id = ?", referenceType, referenceId)
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, effect := range effects {
		if err := applyStockEffect(ctx, effect); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ApplyDuePendingStockEffects is the reconciler entry point: it claims and
// applies every effect whose next attempt is due, returning how many applied.
func ApplyDuePendingStockEffects(ctx context.Context, batchSize int) (int, error) {
	effects, err := claimStockEffects(ctx, batchSize, nil)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, effect := range effects {
		if err := applyStockEffect(ctx, effect); err == nil {
			applied++
		}
	}
	return applied, nil
}

// applyStockEffect writes the ledger movement for a claimed effect. The
// caller must hold the claim from claimStockEffects; attempts was already
// bumped there. On failure the claim is released back to pending with
// backoff, or to dead once attempts are exhausted.
func applyStockEffect(ctx context.Context, effect *PendingStockEffect) error {
	db := config.GetDB()
	logger := config.GetLogger()

	refId := effect.ReferenceId
	movement, err := RecordStockMovement(ctx, &NewStockMovement{
		ProductId:     effect.ProductId,
		WarehouseId:   effect.WarehouseId,
		MovementType:  effect.MovementType,
		Reason:        effect.Reason,
		Qty:           effect.Qty,
		ReferenceType: effect.ReferenceType,
		ReferenceId:   &refId,
		Metadata:      fmt.Sprintf(`{"pending_effect_id":%d}`, effect.ID),
	})
	now := time.Now()
	if err != nil {
		msg := err.Error()
		updates := map[string]interface{}{
			"status":          StockEffectPending,
			"last_error":      &msg,
			"next_attempt_at": now.Add(backoffForAttempt(effect.Attempts)),
			"locked_at":       nil,
			"locked_by":       nil,
		}
		if effect.Attempts >= maxStockEffectAttempts {
			updates["status"] = StockEffectDead
		}
		if uerr := db.WithContext(ctx).Model(&PendingStockEffect{}).
			Where("id = ?", effect.ID).Updates(updates).Error; uerr != nil {
			config.LogError(logger, "pendingStockEffect.go", "applyStockEffect", "release claim", effect.ID, uerr)
		}
		return err
	}

	return db.WithContext(ctx).Model(&PendingStockEffect{}).
		Where("id = ? AND status = ?", effect.ID, StockEffectApplying).
		Updates(map[string]interface{}{
			"status":      StockEffectApplied,
			"applied_at":  now,
			"movement_id": movement.ID,
			"last_error":  nil,
			"locked_at":   nil,
			"locked_by":   nil,
		}).Error
}

func backoffForAttempt(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<attempt) * 5 * time.Second
}

// CountPendingStockEffects is used by health/ops endpoints. Applying rows
// count too: they are claimed but not yet on the ledger.
func CountPendingStockEffects(ctx context.Context) (int64, error) {
	return utils.ResourceCountWhere[PendingStockEffect](ctx, "status IN ?",
		[]StockEffectStatus{StockEffectPending, StockEffectApplying})
}
