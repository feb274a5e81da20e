package pricing

import "strings"

// DemandLevel is the coarse demand signal reported by operations.
type DemandLevel string

const (
	DemandLow      DemandLevel = "low"
	DemandNormal   DemandLevel = "normal"
	DemandHigh     DemandLevel = "high"
	DemandVeryHigh DemandLevel = "very-high"
)

// MarketCondition describes the short-term price trend.
type MarketCondition string

const (
	MarketStable       MarketCondition = "stable"
	MarketVolatile     MarketCondition = "volatile"
	MarketTrendingUp   MarketCondition = "trending-up"
	MarketTrendingDown MarketCondition = "trending-down"
)

// MarketFactors is a snapshot of the operational signals that drive price adjustments.
type MarketFactors struct {
	QueueLength           int             `json:"queueLength" yaml:"queue_length"`
	AvailableTechnicians  int             `json:"availableTechnicians" yaml:"available_technicians"`
	PeakHoursMultiplier   float64         `json:"peakHoursMultiplier" yaml:"peak_hours_multiplier"`
	DemandLevel           DemandLevel     `json:"demandLevel" yaml:"demand_level"`
	ExpressServicePremium float64         `json:"expressServicePremium" yaml:"express_service_premium"`
	SeasonalAdjustment    float64         `json:"seasonalAdjustment" yaml:"seasonal_adjustment"`
	PromotionalDiscount   float64         `json:"promotionalDiscount" yaml:"promotional_discount"`
	MarketConditions      MarketCondition `json:"marketConditions" yaml:"market_conditions"`
}

// DefaultFactors is the baseline used until real factors have been fetched.
func DefaultFactors() MarketFactors {
	return MarketFactors{
		QueueLength:           5,
		AvailableTechnicians:  3,
		PeakHoursMultiplier:   1.0,
		DemandLevel:           DemandNormal,
		ExpressServicePremium: 1.0,
		SeasonalAdjustment:    1.0,
		PromotionalDiscount:   0,
		MarketConditions:      MarketStable,
	}
}

// FactorsPatch carries a partial update. Nil fields are left untouched by Apply.
type FactorsPatch struct {
	QueueLength           *int             `json:"queueLength,omitempty"`
	AvailableTechnicians  *int             `json:"availableTechnicians,omitempty"`
	PeakHoursMultiplier   *float64         `json:"peakHoursMultiplier,omitempty"`
	DemandLevel           *DemandLevel     `json:"demandLevel,omitempty"`
	ExpressServicePremium *float64         `json:"expressServicePremium,omitempty"`
	SeasonalAdjustment    *float64         `json:"seasonalAdjustment,omitempty"`
	PromotionalDiscount   *float64         `json:"promotionalDiscount,omitempty"`
	MarketConditions      *MarketCondition `json:"marketConditions,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p FactorsPatch) IsEmpty() bool {
	return p.QueueLength == nil && p.AvailableTechnicians == nil && p.PeakHoursMultiplier == nil &&
		p.DemandLevel == nil && p.ExpressServicePremium == nil && p.SeasonalAdjustment == nil &&
		p.PromotionalDiscount == nil && p.MarketConditions == nil
}

// Apply returns a copy of f with every non-nil field of p merged in.
// Counts are clamped at zero and the promotional discount to [0, 100].
func (f MarketFactors) Apply(p FactorsPatch) MarketFactors {
	if p.QueueLength != nil {
		f.QueueLength = max(*p.QueueLength, 0)
	}
	if p.AvailableTechnicians != nil {
		f.AvailableTechnicians = max(*p.AvailableTechnicians, 0)
	}
	if p.PeakHoursMultiplier != nil {
		f.PeakHoursMultiplier = *p.PeakHoursMultiplier
	}
	if p.DemandLevel != nil && *p.DemandLevel != "" {
		f.DemandLevel = *p.DemandLevel
	}
	if p.ExpressServicePremium != nil {
		f.ExpressServicePremium = *p.ExpressServicePremium
	}
	if p.SeasonalAdjustment != nil {
		f.SeasonalAdjustment = *p.SeasonalAdjustment
	}
	if p.PromotionalDiscount != nil {
		f.PromotionalDiscount = min(max(*p.PromotionalDiscount, 0), 100)
	}
	if p.MarketConditions != nil && *p.MarketConditions != "" {
		f.MarketConditions = *p.MarketConditions
	}
	return f
}

// factorValue is a field value as seen by rule conditions.
type factorValue struct {
	num     float64
	str     string
	numeric bool
}

func numberValue(v float64) factorValue { return factorValue{num: v, numeric: true} }
func stringValue(v string) factorValue  { return factorValue{str: v} }

// normalizeField makes "queueLength", "queue_length" and "queue-length" equivalent.
func normalizeField(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}

// lookup resolves a condition field against the snapshot. Unknown fields report false.
func (f MarketFactors) lookup(field string) (factorValue, bool) {
	switch normalizeField(field) {
	case "queuelength":
		return numberValue(float64(f.QueueLength)), true
	case "availabletechnicians":
		return numberValue(float64(f.AvailableTechnicians)), true
	case "peakhoursmultiplier":
		return numberValue(f.PeakHoursMultiplier), true
	case "demandlevel":
		if f.DemandLevel == "" {
			return factorValue{}, false
		}
		return stringValue(string(f.DemandLevel)), true
	case "expressservicepremium":
		return numberValue(f.ExpressServicePremium), true
	case "seasonaladjustment":
		return numberValue(f.SeasonalAdjustment), true
	case "promotionaldiscount":
		return numberValue(f.PromotionalDiscount), true
	case "marketconditions":
		if f.MarketConditions == "" {
			return factorValue{}, false
		}
		return stringValue(string(f.MarketConditions)), true
	}
	return factorValue{}, false
}

// KnownField reports whether conditions may reference the named field.
func KnownField(field string) bool {
	_, ok := DefaultFactors().lookup(field)
	return ok
}
