package models

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// DuplicateMatch is one prior order that matched a duplicate rule.
type DuplicateMatch struct {
	OrderId     int    `json:"order_id"`
	OrderNumber string `json:"order_number"`
	MatchedRule string `json:"matched_rule"`
}

type DuplicateCheckResult struct {
	IsDuplicate     bool             `json:"is_duplicate"`
	DuplicateOrders []DuplicateMatch `json:"duplicate_orders"`
}

// DuplicateDetector is the black-box classifier consulted once at order
// creation. The ruleset behind it is owned elsewhere; the core only reads
// the verdict.
type DuplicateDetector interface {
	Detect(ctx context.Context, input *NewOrder, totalPrice decimal.Decimal) (*DuplicateCheckResult, error)
}

var (
	duplicateDetector   DuplicateDetector
	duplicateDetectorMu sync.RWMutex
)

func SetDuplicateDetector(d DuplicateDetector) {
	duplicateDetectorMu.Lock()
	defer duplicateDetectorMu.Unlock()
	duplicateDetector = d
}

func GetDuplicateDetector() DuplicateDetector {
	duplicateDetectorMu.RLock()
	defer duplicateDetectorMu.RUnlock()
	return duplicateDetector
}
