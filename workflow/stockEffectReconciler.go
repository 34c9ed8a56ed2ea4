package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warelogic/logistics_backend/models"
)

// StockEffectReconciler retries pending stock effects whose immediate
// post-commit apply failed (stock row contention, redis outage, transient DB
// errors). Effects carry their own attempt counters and backoff; the
// reconciler only drives the polling.
type StockEffectReconciler struct {
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
}

func NewStockEffectReconciler(logger *logrus.Logger) *StockEffectReconciler {
	return &StockEffectReconciler{
		Logger:       logger,
		BatchSize:    100,
		PollInterval: 5 * time.Second,
	}
}

func (r *StockEffectReconciler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.reconcileOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.PollInterval):
		}
	}
}

func (r *StockEffectReconciler) reconcileOnce(ctx context.Context) {
	applied, err := models.ApplyDuePendingStockEffects(ctx, r.BatchSize)
	if err != nil {
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"field": "StockEffectReconciler",
			}).Error("reconcile pass failed: " + err.Error())
		}
		return
	}
	if applied > 0 && r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"field":   "StockEffectReconciler",
			"applied": applied,
		}).Info("applied pending stock effects")
	}
}
