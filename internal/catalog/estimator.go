package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"repair-pricing-backend/config"
	"repair-pricing-backend/internal/model"
	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/store"
)

// ErrUnknownRepairType is returned when the catalog has no entry for a repair type.
var ErrUnknownRepairType = errors.New("unknown repair type")

// RepairTypes looks up catalog entries.
type RepairTypes interface {
	GetRepairType(ctx context.Context, id string) (*model.RepairType, error)
}

// Options modify the base price.
type Options struct {
	Express bool
}

// Estimate is the base price of a repair before market adjustments.
type Estimate struct {
	RepairTypeID   string          `json:"repairTypeId"`
	RepairTypeName string          `json:"repairTypeName"`
	Device         string          `json:"device"`
	Express        bool            `json:"express"`
	Total          decimal.Decimal `json:"total"`
	Duration       int             `json:"durationMinutes"`
}

// Estimator computes base prices from the repair-type catalog.
type Estimator struct {
	types RepairTypes
}

func NewEstimator(types RepairTypes) *Estimator {
	return &Estimator{types: types}
}

// CalculatePrice returns the base price for repairing device. It never falls back
// to a zero price: an unknown repair type is an error.
func (e *Estimator) CalculatePrice(ctx context.Context, device, repairTypeID string, opts Options) (Estimate, error) {
	rt, err := e.types.GetRepairType(ctx, repairTypeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Estimate{}, fmt.Errorf("%w: %q", ErrUnknownRepairType, repairTypeID)
		}
		return Estimate{}, fmt.Errorf("look up repair type %q: %w", repairTypeID, err)
	}

	total := rt.BasePrice
	if opts.Express && rt.ExpressPremium > 0 {
		total = total.Mul(decimal.NewFromFloat(rt.ExpressPremium))
	}
	return Estimate{
		RepairTypeID:   rt.ID,
		RepairTypeName: rt.Name,
		Device:         device,
		Express:        opts.Express,
		Total:          total.Round(pricing.CurrencyPlaces),
		Duration:       rt.DurationMinutes,
	}, nil
}

// Seed writes the configured catalog entries to the store.
func Seed(ctx context.Context, s store.Store, entries []config.RepairTypeConfig) error {
	if len(entries) == 0 {
		return nil
	}
	types := make([]model.RepairType, 0, len(entries))
	for _, e := range entries {
		types = append(types, model.RepairType{
			ID:              e.ID,
			Name:            e.Name,
			Category:        e.Category,
			BasePrice:       decimal.NewFromFloat(e.BasePrice).Round(pricing.CurrencyPlaces),
			ExpressPremium:  e.ExpressPremium,
			DurationMinutes: e.DurationMinutes,
		})
	}
	return s.UpsertRepairTypes(ctx, types)
}
