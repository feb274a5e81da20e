package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/pricing"
)

type staticFactors factors.Snapshot

func (s staticFactors) Snapshot(context.Context) factors.Snapshot { return factors.Snapshot(s) }

// scriptedSimulator returns fixed factors keyed by hours ahead of start.
type scriptedSimulator struct {
	start time.Time
	by    map[int]pricing.MarketFactors
}

func (s scriptedSimulator) Simulate(current pricing.MarketFactors, at time.Time) pricing.MarketFactors {
	if f, ok := s.by[int(at.Sub(s.start).Hours())]; ok {
		return f
	}
	return current
}

var fixedNow = time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC) // a Wednesday

func newComposer(snap factors.Snapshot, opts ...Option) *Composer {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewComposer(pricing.NewEngine(pricing.DefaultLimits()), staticFactors(snap), pricing.DefaultRules(), opts...)
}

func TestComposer_QuoteHighQueueAtPeak(t *testing.T) {
	f := pricing.DefaultFactors()
	f.QueueLength = 15
	f.PeakHoursMultiplier = 1.2
	c := newComposer(factors.Snapshot{Factors: f, Origin: factors.OriginPush})

	q, err := c.Quote(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, "138.00", q.AdjustedPrice.StringFixed(2))
	assert.True(t, q.AdjustmentPercentage.Equal(decimal.NewFromInt(38)))
	assert.Equal(t, Wait, q.Recommendation)
	assert.Equal(t, 90, q.Confidence)
	assert.Equal(t, fixedNow.Add(15*time.Minute), q.ValidUntil)
	assert.Equal(t, []string{"high-queue", "peak-hours"}, q.FiredRules)
	assert.Equal(t, []string{
		"High demand: 15 repairs are waiting in the queue.",
		"Peak hours pricing is in effect.",
	}, q.Reasoning)
	assert.NotEmpty(t, q.QuoteID)
}

func TestComposer_QuoteLowDemandIsAcceptAtBoundary(t *testing.T) {
	f := pricing.DefaultFactors()
	f.DemandLevel = pricing.DemandLow
	c := newComposer(factors.Snapshot{Factors: f, Origin: factors.OriginDefault})

	q, err := c.Quote(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, "90.00", q.AdjustedPrice.StringFixed(2))
	assert.Equal(t, Accept, q.Recommendation)
	assert.Equal(t, 60, q.Confidence)
	assert.Equal(t, []string{"Standard pricing: market conditions are normal."}, q.Reasoning)
}

func TestComposer_QuoteAppliesPromotionAndSeason(t *testing.T) {
	f := pricing.DefaultFactors()
	f.PromotionalDiscount = 20
	c := newComposer(factors.Snapshot{Factors: f, Origin: factors.OriginManual})

	q, err := c.Quote(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "80.00", q.AdjustedPrice.StringFixed(2))
	assert.Equal(t, []string{"promotion"}, q.FiredRules)
	assert.Equal(t, []string{"A 20% promotional discount is available."}, q.Reasoning)

	f.SeasonalAdjustment = 0.8
	c = newComposer(factors.Snapshot{Factors: f, Origin: factors.OriginManual})

	q, err = c.Quote(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "70.00", q.AdjustedPrice.StringFixed(2), "clamped to the -30% window")
	assert.Equal(t, []string{"seasonal", "promotion"}, q.FiredRules)
}

func TestComposer_RejectsNegativeBase(t *testing.T) {
	c := newComposer(factors.Snapshot{Factors: pricing.DefaultFactors()})

	_, err := c.Quote(context.Background(), decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidBasePrice)
	_, err = c.Recommend(context.Background(), decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidBasePrice)
}

func TestComposer_RecommendPicksCheapest(t *testing.T) {
	current := pricing.DefaultFactors()
	current.QueueLength = 15
	current.PeakHoursMultiplier = 1.2

	nextHour := pricing.DefaultFactors()
	nextHour.QueueLength = 12

	tomorrow := pricing.DefaultFactors()
	tomorrow.DemandLevel = pricing.DemandLow

	c := newComposer(factors.Snapshot{Factors: current, Origin: factors.OriginSource},
		WithSimulator(scriptedSimulator{start: fixedNow, by: map[int]pricing.MarketFactors{1: nextHour, 24: tomorrow}}))

	recs, err := c.Recommend(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, "138.00", recs.Current.AdjustedPrice.StringFixed(2))
	assert.Equal(t, "115.00", recs.NextHour.Price.StringFixed(2))
	assert.Equal(t, "90.00", recs.Tomorrow.Price.StringFixed(2))
	assert.Equal(t, fixedNow.Add(24*time.Hour), recs.Tomorrow.At)
	assert.Equal(t, TimingTomorrow, recs.Optimal.Timing)
	assert.Equal(t, "90.00", recs.Optimal.Price.StringFixed(2))
	assert.Equal(t, "48.00", recs.Optimal.Savings.StringFixed(2))
}

func TestComposer_RecommendTiePrefersNow(t *testing.T) {
	f := pricing.DefaultFactors()
	c := newComposer(factors.Snapshot{Factors: f, Origin: factors.OriginSource},
		WithSimulator(scriptedSimulator{start: fixedNow, by: map[int]pricing.MarketFactors{1: f, 24: f}}))

	recs, err := c.Recommend(context.Background(), decimal.NewFromInt(80))
	require.NoError(t, err)

	assert.Equal(t, TimingNow, recs.Optimal.Timing)
	assert.True(t, recs.Optimal.Savings.IsZero())
}

func TestComposer_SetRules(t *testing.T) {
	c := newComposer(factors.Snapshot{Factors: pricing.DefaultFactors()})
	c.SetRules([]pricing.Rule{{ID: "flat", Enabled: true, Adjustment: pricing.Adjustment{Type: pricing.AdjustFixedAmount, Value: 5}}})

	q, err := c.Quote(context.Background(), decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, "55.00", q.AdjustedPrice.StringFixed(2))
	assert.Len(t, c.Rules(), 1)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		pct  string
		want Classification
	}{
		{"20.01", Wait},
		{"20", Accept},
		{"0", Accept},
		{"-10", Accept},
		{"-10.01", Urgent},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Classify(decimal.RequireFromString(tc.pct)), "pct %s", tc.pct)
	}
}

func TestConfidence(t *testing.T) {
	volatile := pricing.DefaultFactors()
	volatile.MarketConditions = pricing.MarketVolatile

	assert.Equal(t, 90, Confidence(factors.OriginSource, pricing.DefaultFactors()))
	assert.Equal(t, 60, Confidence(factors.OriginDefault, pricing.DefaultFactors()))
	assert.Equal(t, 75, Confidence(factors.OriginPush, volatile))
	assert.Equal(t, 45, Confidence(factors.OriginDefault, volatile))
}

func TestReasoning_FixedOrder(t *testing.T) {
	f := pricing.DefaultFactors()
	f.QueueLength = 11
	f.AvailableTechnicians = 2
	f.PeakHoursMultiplier = 1.5
	f.DemandLevel = pricing.DemandVeryHigh
	f.PromotionalDiscount = 12.5

	assert.Equal(t, []string{
		"High demand: 11 repairs are waiting in the queue.",
		"Limited availability: only 2 technicians are free.",
		"Peak hours pricing is in effect.",
		"Demand is currently very-high.",
		"A 12.5% promotional discount is available.",
	}, Reasoning(f))
}
