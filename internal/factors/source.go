package factors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"repair-pricing-backend/internal/httpx"
	"repair-pricing-backend/internal/pricing"
)

// Source supplies market factors on demand. Fields the source does not report are
// left nil in the returned patch.
type Source interface {
	FetchFactors(ctx context.Context) (pricing.FactorsPatch, error)
}

// HTTPSource polls GET {base}/pricing/factors.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSource(baseURL, token string, client *http.Client) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (s *HTTPSource) FetchFactors(ctx context.Context) (pricing.FactorsPatch, error) {
	req, err := http.NewRequest(http.MethodGet, s.baseURL+"/pricing/factors", nil)
	if err != nil {
		return pricing.FactorsPatch{}, fmt.Errorf("failed to create request: %w", err)
	}
	var patch pricing.FactorsPatch
	if err := httpx.DoJSON(ctx, s.client, req, s.token, &patch); err != nil {
		return pricing.FactorsPatch{}, fmt.Errorf("fetch market factors: %w", err)
	}
	return patch, nil
}

// StaticSource always returns the same factors. Used for offline quotes.
type StaticSource pricing.MarketFactors

func (s StaticSource) FetchFactors(context.Context) (pricing.FactorsPatch, error) {
	f := pricing.MarketFactors(s)
	return pricing.FactorsPatch{
		QueueLength:           &f.QueueLength,
		AvailableTechnicians:  &f.AvailableTechnicians,
		PeakHoursMultiplier:   &f.PeakHoursMultiplier,
		DemandLevel:           &f.DemandLevel,
		ExpressServicePremium: &f.ExpressServicePremium,
		SeasonalAdjustment:    &f.SeasonalAdjustment,
		PromotionalDiscount:   &f.PromotionalDiscount,
		MarketConditions:      &f.MarketConditions,
	}, nil
}
