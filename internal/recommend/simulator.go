package recommend

import (
	"math/rand"
	"sync"
	"time"

	"repair-pricing-backend/internal/pricing"
)

// Simulator forecasts the market factors at a future time.
type Simulator interface {
	Simulate(current pricing.MarketFactors, at time.Time) pricing.MarketFactors
}

// RandomSimulator is the default forecasting policy: peak-hours multiplier from
// the hour of day, demand skewed by weekday and business hours, and queue length
// and technician availability randomly perturbed around their current values.
type RandomSimulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSimulator returns a simulator seeded with seed.
func NewRandomSimulator(seed int64) *RandomSimulator {
	return &RandomSimulator{rng: rand.New(rand.NewSource(seed))}
}

// IsPeakHour reports whether hour falls in 9-12 or 14-17 inclusive.
func IsPeakHour(hour int) bool {
	return (hour >= 9 && hour <= 12) || (hour >= 14 && hour <= 17)
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func isBusinessHours(t time.Time) bool {
	return t.Hour() >= 9 && t.Hour() < 18
}

func (s *RandomSimulator) Simulate(current pricing.MarketFactors, at time.Time) pricing.MarketFactors {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := current
	next.PeakHoursMultiplier = 1.0
	if IsPeakHour(at.Hour()) {
		next.PeakHoursMultiplier = 1.2
	}

	switch {
	case isWeekend(at):
		next.DemandLevel = pricing.DemandLow
	case isBusinessHours(at):
		if s.rng.Intn(2) == 0 {
			next.DemandLevel = pricing.DemandHigh
		} else {
			next.DemandLevel = pricing.DemandNormal
		}
	default:
		next.DemandLevel = pricing.DemandNormal
	}

	next.QueueLength = max(current.QueueLength+s.rng.Intn(5)-2, 0)
	next.AvailableTechnicians = max(current.AvailableTechnicians+s.rng.Intn(3)-1, 0)
	return next
}
