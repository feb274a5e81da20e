package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/pricing"
)

// Classification tells the customer whether to book now.
type Classification string

const (
	Accept Classification = "accept"
	Wait   Classification = "wait"
	Urgent Classification = "urgent"
)

// Timing labels the entries compared by Recommend.
type Timing string

const (
	TimingNow      Timing = "now"
	TimingNextHour Timing = "next-hour"
	TimingTomorrow Timing = "tomorrow"
)

// DefaultTTL is how long a quote is advertised as valid.
const DefaultTTL = 15 * time.Minute

var ErrInvalidBasePrice = errors.New("base price must not be negative")

var (
	waitAbove   = decimal.NewFromInt(20)
	urgentBelow = decimal.NewFromInt(-10)
)

// PriceUpdate is a priced quote with its explanation.
type PriceUpdate struct {
	QuoteID              string                `json:"quoteId"`
	BasePrice            decimal.Decimal       `json:"basePrice"`
	AdjustedPrice        decimal.Decimal       `json:"adjustedPrice"`
	Factors              pricing.MarketFactors `json:"factors"`
	FactorsOrigin        factors.Origin        `json:"factorsOrigin"`
	AdjustmentPercentage decimal.Decimal       `json:"adjustmentPercentage"`
	ValidUntil           time.Time             `json:"validUntil"`
	Confidence           int                   `json:"confidence"`
	Recommendation       Classification        `json:"recommendation"`
	Reasoning            []string              `json:"reasoning"`
	FiredRules           []string              `json:"firedRules"`
}

// Forecast is the price expected under simulated future factors.
type Forecast struct {
	At                   time.Time             `json:"at"`
	Price                decimal.Decimal       `json:"price"`
	AdjustmentPercentage decimal.Decimal       `json:"adjustmentPercentage"`
	Factors              pricing.MarketFactors `json:"factors"`
	FiredRules           []string              `json:"firedRules"`
}

// Optimal is the cheapest of the compared entries.
type Optimal struct {
	Timing  Timing          `json:"timing"`
	At      time.Time       `json:"at"`
	Price   decimal.Decimal `json:"price"`
	Savings decimal.Decimal `json:"savings"`
}

// Recommendations compares booking now with booking later.
type Recommendations struct {
	Current  PriceUpdate `json:"current"`
	NextHour Forecast    `json:"nextHour"`
	Tomorrow Forecast    `json:"tomorrow"`
	Optimal  Optimal     `json:"optimal"`
}

// FactorsSource supplies the current factors snapshot.
type FactorsSource interface {
	Snapshot(ctx context.Context) factors.Snapshot
}

// Composer prices quotes from the live factors and explains them.
type Composer struct {
	engine    *pricing.Engine
	factors   FactorsSource
	simulator Simulator
	ttl       time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	rules []pricing.Rule
}

// Option customizes a Composer.
type Option func(*Composer)

func WithSimulator(s Simulator) Option {
	return func(c *Composer) { c.simulator = s }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Composer) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

func NewComposer(engine *pricing.Engine, source FactorsSource, rules []pricing.Rule, opts ...Option) *Composer {
	c := &Composer{
		engine:  engine,
		factors: source,
		ttl:     DefaultTTL,
		now:     time.Now,
		rules:   append([]pricing.Rule(nil), rules...),
	}
	for _, o := range opts {
		o(c)
	}
	if c.simulator == nil {
		c.simulator = NewRandomSimulator(c.now().UnixNano())
	}
	return c
}

// Rules returns a copy of the active rule set.
func (c *Composer) Rules() []pricing.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]pricing.Rule(nil), c.rules...)
}

// SetRules replaces the active rule set.
func (c *Composer) SetRules(rules []pricing.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append([]pricing.Rule(nil), rules...)
}

// Quote prices base against the current factors.
func (c *Composer) Quote(ctx context.Context, base decimal.Decimal) (PriceUpdate, error) {
	if base.IsNegative() {
		return PriceUpdate{}, fmt.Errorf("%w: %s", ErrInvalidBasePrice, base)
	}
	snap := c.factors.Snapshot(ctx)
	return c.quote(base, snap, c.now()), nil
}

func (c *Composer) quote(base decimal.Decimal, snap factors.Snapshot, now time.Time) PriceUpdate {
	result := c.engine.Evaluate(base, snap.Factors, c.Rules())
	pct := pricing.AdjustmentPercentage(base, result.Price)
	return PriceUpdate{
		QuoteID:              uuid.NewString(),
		BasePrice:            base.Round(pricing.CurrencyPlaces),
		AdjustedPrice:        result.Price,
		Factors:              snap.Factors,
		FactorsOrigin:        snap.Origin,
		AdjustmentPercentage: pct,
		ValidUntil:           now.Add(c.ttl).UTC(),
		Confidence:           Confidence(snap.Origin, snap.Factors),
		Recommendation:       Classify(pct),
		Reasoning:            Reasoning(snap.Factors),
		FiredRules:           result.FiredRules,
	}
}

// Recommend compares the current quote with simulated prices one hour and one
// day ahead and picks the cheapest. Ties go to the earliest.
func (c *Composer) Recommend(ctx context.Context, base decimal.Decimal) (Recommendations, error) {
	if base.IsNegative() {
		return Recommendations{}, fmt.Errorf("%w: %s", ErrInvalidBasePrice, base)
	}
	now := c.now()
	snap := c.factors.Snapshot(ctx)
	current := c.quote(base, snap, now)

	recs := Recommendations{
		Current:  current,
		NextHour: c.forecast(base, snap.Factors, now.Add(time.Hour)),
		Tomorrow: c.forecast(base, snap.Factors, now.Add(24*time.Hour)),
	}

	recs.Optimal = Optimal{Timing: TimingNow, At: now.UTC(), Price: current.AdjustedPrice}
	for _, f := range []struct {
		timing   Timing
		forecast Forecast
	}{{TimingNextHour, recs.NextHour}, {TimingTomorrow, recs.Tomorrow}} {
		if f.forecast.Price.LessThan(recs.Optimal.Price) {
			recs.Optimal = Optimal{Timing: f.timing, At: f.forecast.At, Price: f.forecast.Price}
		}
	}
	recs.Optimal.Savings = current.AdjustedPrice.Sub(recs.Optimal.Price)
	return recs, nil
}

func (c *Composer) forecast(base decimal.Decimal, current pricing.MarketFactors, at time.Time) Forecast {
	simulated := c.simulator.Simulate(current, at)
	result := c.engine.Evaluate(base, simulated, c.Rules())
	return Forecast{
		At:                   at.UTC(),
		Price:                result.Price,
		AdjustmentPercentage: pricing.AdjustmentPercentage(base, result.Price),
		Factors:              simulated,
		FiredRules:           result.FiredRules,
	}
}

// Classify maps an adjustment percentage to a recommendation: above 20 wait,
// below -10 urgent, otherwise accept. Both boundaries are accept.
func Classify(pct decimal.Decimal) Classification {
	switch {
	case pct.GreaterThan(waitAbove):
		return Wait
	case pct.LessThan(urgentBelow):
		return Urgent
	default:
		return Accept
	}
}

// Confidence scores how much the quote can be trusted.
func Confidence(origin factors.Origin, f pricing.MarketFactors) int {
	score := 90
	if origin == factors.OriginDefault || origin == "" {
		score = 60
	}
	if f.MarketConditions == pricing.MarketVolatile {
		score -= 15
	}
	return min(max(score, 0), 100)
}
