package engine

import (
	"context"
	"errors"
	"fmt"

	"qmtbridge/internal/domain"
)

// ErrRiskLimit is returned when an order breaches a pre-trade limit.
var ErrRiskLimit = errors.New("order exceeds risk limit")

// RiskManager enforces pre-trade limits on individual orders before they
// reach either submission path.
type RiskManager struct {
	maxOrderVolume   int64
	maxOrderNotional float64
}

// NewRiskManager creates a RiskManager with the given thresholds.
//
//   - maxOrderVolume: largest volume accepted in a single order (0 disables).
//   - maxOrderNotional: largest price × volume accepted for priced orders
//     (0 disables).
func NewRiskManager(maxOrderVolume int64, maxOrderNotional float64) *RiskManager {
	return &RiskManager{
		maxOrderVolume:   maxOrderVolume,
		maxOrderNotional: maxOrderNotional,
	}
}

// CheckOrder evaluates req against the configured limits. contract may be
// nil when the instrument is not in the catalog; lot-size checks are then
// skipped.
func (rm *RiskManager) CheckOrder(_ context.Context, req domain.OrderRequest, contract *domain.Contract) error {
	if rm.maxOrderVolume > 0 && req.Volume > rm.maxOrderVolume {
		return fmt.Errorf("%w: volume %d above %d", ErrRiskLimit, req.Volume, rm.maxOrderVolume)
	}
	if notional := req.Price * float64(req.Volume); rm.maxOrderNotional > 0 && notional > rm.maxOrderNotional {
		return fmt.Errorf("%w: notional %.2f above %.2f", ErrRiskLimit, notional, rm.maxOrderNotional)
	}
	// Odd lots can only be sold, so the lot size applies to buys and to
	// basket creation/redemption.
	if contract != nil && contract.MinVolume > 0 && req.Direction != domain.DirectionShort {
		if req.Volume%contract.MinVolume != 0 {
			return fmt.Errorf("%w: volume %d is not a multiple of lot size %d", ErrRiskLimit, req.Volume, contract.MinVolume)
		}
	}
	return nil
}
