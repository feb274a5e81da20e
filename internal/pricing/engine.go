package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// CurrencyPlaces is the precision every adjusted price is rounded to.
const CurrencyPlaces = 2

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Limits bounds the total adjustment regardless of how rules stack.
type Limits struct {
	MaxIncreasePct float64 `json:"maxIncreasePct" yaml:"max_increase_pct"`
	MaxDecreasePct float64 `json:"maxDecreasePct" yaml:"max_decrease_pct"`
}

// DefaultLimits allows at most +50% / -30%.
func DefaultLimits() Limits {
	return Limits{MaxIncreasePct: 50, MaxDecreasePct: 30}
}

// Engine applies pricing rules to a base price. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	limits Limits
}

// NewEngine creates an engine with the given global limits. Negative limits are treated as zero.
func NewEngine(limits Limits) *Engine {
	limits.MaxIncreasePct = max(limits.MaxIncreasePct, 0)
	limits.MaxDecreasePct = min(max(limits.MaxDecreasePct, 0), 100)
	return &Engine{limits: limits}
}

// Limits returns the engine's global limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Result is the outcome of one evaluation.
type Result struct {
	Price      decimal.Decimal
	FiredRules []string
}

// Calculate returns the adjusted price for base under the given factors and rules.
func (e *Engine) Calculate(base decimal.Decimal, factors MarketFactors, rules []Rule) decimal.Decimal {
	return e.Evaluate(base, factors, rules).Price
}

// Evaluate runs every enabled rule in ascending priority order (configuration order
// for equal priorities), then clamps the result to the global window and rounds it.
func (e *Engine) Evaluate(base decimal.Decimal, factors MarketFactors, rules []Rule) Result {
	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if err := r.Validate(); err != nil {
			log.WithField("rule", r.ID).Warnf("Skipping malformed pricing rule: %v", err)
			continue
		}
		active = append(active, r)
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	price := base
	var fired []string
	for _, r := range active {
		if !r.Fires(factors) {
			continue
		}
		price = r.Adjustment.apply(price, factors)
		fired = append(fired, r.ID)
	}

	return Result{Price: e.clamp(base, price), FiredRules: fired}
}

// Bounds returns the inclusive window the adjusted price must fall into.
func (e *Engine) Bounds(base decimal.Decimal) (lo, hi decimal.Decimal) {
	lo = base.Mul(one.Sub(pct(e.limits.MaxDecreasePct)))
	hi = base.Mul(one.Add(pct(e.limits.MaxIncreasePct)))
	return lo, hi
}

func (e *Engine) clamp(base, price decimal.Decimal) decimal.Decimal {
	lo, hi := e.Bounds(base)
	if price.LessThan(lo) {
		price = lo
	}
	if price.GreaterThan(hi) {
		price = hi
	}
	rounded := price.Round(CurrencyPlaces)
	// Rounding must not push the price back out of the window.
	if rounded.GreaterThan(hi) {
		rounded = hi.RoundFloor(CurrencyPlaces)
	}
	if rounded.LessThan(lo) {
		rounded = lo.RoundCeil(CurrencyPlaces)
	}
	return rounded
}

func (a Adjustment) apply(price decimal.Decimal, factors MarketFactors) decimal.Decimal {
	value := decimal.NewFromFloat(a.Value)
	if a.Factor != "" {
		v, ok := factors.lookup(a.Factor)
		if !ok || !v.numeric {
			return price
		}
		value = value.Mul(decimal.NewFromFloat(v.num))
	}
	var next decimal.Decimal
	switch a.Type {
	case AdjustPercentage:
		next = price.Mul(one.Add(value.Div(hundred)))
	case AdjustFixedAmount:
		next = price.Add(value)
	case AdjustMultiplier:
		next = price.Mul(value)
	default:
		return price
	}
	if a.Cap != nil {
		ceiling := price.Mul(one.Add(pct(*a.Cap)))
		if next.GreaterThan(ceiling) {
			next = ceiling
		}
	}
	if a.Floor != nil {
		floor := price.Mul(one.Add(pct(*a.Floor)))
		if next.LessThan(floor) {
			next = floor
		}
	}
	return next
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(hundred)
}

// AdjustmentPercentage is (adjusted - base) / base * 100 rounded to two places.
// A zero base yields zero.
func AdjustmentPercentage(base, adjusted decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return adjusted.Sub(base).Div(base).Mul(hundred).Round(2)
}

func ptr(v float64) *float64 { return &v }

// DefaultRules is the rule set used when the configuration does not provide one.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "high-queue", Name: "High repair queue", Enabled: true, Priority: 10,
			Conditions: []Condition{{Field: "queueLength", Operator: OpGreater, Value: 10, Weight: 1}},
			Adjustment: Adjustment{Type: AdjustPercentage, Value: 15, Cap: ptr(30)},
		},
		{
			ID: "low-technicians", Name: "Limited technician availability", Enabled: true, Priority: 20,
			Conditions: []Condition{{Field: "availableTechnicians", Operator: OpLess, Value: 3, Weight: 1}},
			Adjustment: Adjustment{Type: AdjustPercentage, Value: 10, Cap: ptr(20)},
		},
		{
			ID: "peak-hours", Name: "Peak hours", Enabled: true, Priority: 30,
			Conditions: []Condition{{Field: "peakHoursMultiplier", Operator: OpGreater, Value: 1, Weight: 1}},
			Adjustment: Adjustment{Type: AdjustPercentage, Value: 20, Cap: ptr(50)},
		},
		{
			ID: "high-demand", Name: "High demand", Enabled: true, Priority: 40,
			Conditions: []Condition{{Field: "demandLevel", Operator: OpIn, Value: []any{"high", "very-high"}, Weight: 1}},
			Adjustment: Adjustment{Type: AdjustPercentage, Value: 12, Cap: ptr(25)},
		},
		{
			ID: "low-demand", Name: "Low demand discount", Enabled: true, Priority: 50,
			Conditions: []Condition{{Field: "demandLevel", Operator: OpEqual, Value: "low", Weight: 1}},
			Adjustment: Adjustment{Type: AdjustPercentage, Value: -10, Floor: ptr(-25)},
		},
		{
			ID: "seasonal", Name: "Seasonal adjustment", Enabled: true, Priority: 60,
			Conditions: []Condition{{Field: "seasonalAdjustment", Operator: OpNotEqual, Value: 1, Weight: 1}},
			Adjustment: Adjustment{Type: AdjustMultiplier, Value: 1, Factor: "seasonalAdjustment", Cap: ptr(30), Floor: ptr(-30)},
		},
		{
			ID: "promotion", Name: "Promotional discount", Enabled: true, Priority: 70,
			Conditions: []Condition{{Field: "promotionalDiscount", Operator: OpGreater, Value: 0, Weight: 1}},
			Adjustment: Adjustment{Type: AdjustPercentage, Value: -1, Factor: "promotionalDiscount", Floor: ptr(-50)},
		},
	}
}
