package recommend

import (
	"fmt"

	"repair-pricing-backend/internal/pricing"
)

// Reasoning explains the factors behind a price, one sentence per triggered
// threshold, always in the same order.
func Reasoning(f pricing.MarketFactors) []string {
	var out []string
	if f.QueueLength > 10 {
		out = append(out, fmt.Sprintf("High demand: %d repairs are waiting in the queue.", f.QueueLength))
	}
	if f.AvailableTechnicians < 3 {
		out = append(out, fmt.Sprintf("Limited availability: only %d technicians are free.", f.AvailableTechnicians))
	}
	if f.PeakHoursMultiplier > 1 {
		out = append(out, "Peak hours pricing is in effect.")
	}
	if f.DemandLevel == pricing.DemandHigh || f.DemandLevel == pricing.DemandVeryHigh {
		out = append(out, fmt.Sprintf("Demand is currently %s.", f.DemandLevel))
	}
	if f.PromotionalDiscount > 0 {
		out = append(out, fmt.Sprintf("A %g%% promotional discount is available.", f.PromotionalDiscount))
	}
	if len(out) == 0 {
		out = append(out, "Standard pricing: market conditions are normal.")
	}
	return out
}
