package factors

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/realtime"
)

// Origin records where the current snapshot last came from.
type Origin string

const (
	OriginDefault Origin = "default"
	OriginSource  Origin = "source"
	OriginPush    Origin = "push"
	OriginManual  Origin = "manual"
)

const (
	pushKey        = "push"
	fetchFailedKey = "fetch-failed"
)

// Snapshot is the current factors together with their provenance.
type Snapshot struct {
	Factors   pricing.MarketFactors `json:"factors"`
	Origin    Origin                `json:"origin"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Listener is notified after every change to the snapshot.
type Listener func(Snapshot)

// Provider owns the single market factors snapshot for the service.
type Provider struct {
	source   Source
	interval time.Duration
	gate     func() bool
	recent   *cache.Cache
	lazy     singleflight.Group

	mu      sync.RWMutex
	snap    Snapshot
	fetched bool
	version uint64

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	fn Listener
}

// Option customizes a Provider.
type Option func(*Provider)

// WithInterval sets the poll interval. The default is 30 seconds.
func WithInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithGate makes Run skip polls while fn returns false.
func WithGate(fn func() bool) Option {
	return func(p *Provider) { p.gate = fn }
}

// NewProvider creates a provider that starts from the default baseline. source may be nil.
func NewProvider(source Source, opts ...Option) *Provider {
	p := &Provider{
		source:   source,
		interval: 30 * time.Second,
		snap:     Snapshot{Factors: pricing.DefaultFactors(), Origin: OriginDefault},
	}
	for _, o := range opts {
		o(p)
	}
	p.recent = cache.New(p.interval, 2*p.interval)
	return p
}

// Current returns the current factors, fetching them once if nothing has been loaded yet.
// It never fails: the default baseline is returned when the source is unavailable, and
// a failed fetch is not retried until one refresh interval has passed.
func (p *Provider) Current(ctx context.Context) pricing.MarketFactors {
	return p.Snapshot(ctx).Factors
}

// Snapshot is Current with provenance.
func (p *Provider) Snapshot(ctx context.Context) Snapshot {
	p.mu.RLock()
	fetched := p.fetched
	p.mu.RUnlock()
	if !fetched && p.source != nil {
		p.lazyFetch(ctx)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *Provider) lazyFetch(ctx context.Context) {
	if _, failed := p.recent.Get(fetchFailedKey); failed {
		return
	}
	p.lazy.Do(fetchFailedKey, func() (any, error) {
		p.mu.RLock()
		fetched := p.fetched
		p.mu.RUnlock()
		if _, failed := p.recent.Get(fetchFailedKey); failed || fetched {
			return nil, nil
		}
		if err := p.Refresh(ctx); err != nil {
			p.recent.SetDefault(fetchFailedKey, err)
			log.Printf("Using baseline market factors: %v", err)
		}
		return nil, nil
	})
}

// Refresh polls the source once. A result that arrives after a newer push or
// manual update is discarded.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.source == nil {
		return nil
	}
	p.mu.RLock()
	version := p.version
	p.mu.RUnlock()

	patch, err := p.source.FetchFactors(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.version != version {
		p.mu.Unlock()
		log.Debug("Discarding polled market factors superseded by a newer update.")
		return nil
	}
	snap := p.applyLocked(patch, OriginSource)
	p.mu.Unlock()

	p.notify(snap)
	return nil
}

// Update merge-patches the snapshot and notifies listeners.
func (p *Provider) Update(patch pricing.FactorsPatch) Snapshot {
	return p.update(patch, OriginManual)
}

// HandlePush is the router callback for pricing-update and queue-update envelopes.
// The payload is either a factors patch or an object with a "factors" field.
func (p *Provider) HandlePush(env realtime.Envelope) {
	patch, err := decodePatch(env)
	if err != nil {
		log.WithField("type", env.Type).Warnf("Ignoring factors push: %v", err)
		return
	}
	if patch.IsEmpty() {
		return
	}
	p.recent.SetDefault(pushKey, time.Now())
	p.update(patch, OriginPush)
}

func (p *Provider) update(patch pricing.FactorsPatch, origin Origin) Snapshot {
	p.mu.Lock()
	if patch.IsEmpty() {
		snap := p.snap
		p.mu.Unlock()
		return snap
	}
	snap := p.applyLocked(patch, origin)
	p.mu.Unlock()

	p.notify(snap)
	return snap
}

func (p *Provider) applyLocked(patch pricing.FactorsPatch, origin Origin) Snapshot {
	p.snap = Snapshot{
		Factors:   p.snap.Factors.Apply(patch),
		Origin:    origin,
		UpdatedAt: time.Now().UTC(),
	}
	p.fetched = true
	p.version++
	return p.snap
}

// OnChange registers fn and returns a function that removes it.
func (p *Provider) OnChange(fn Listener) func() {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		p.lmu.Lock()
		defer p.lmu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *Provider) notify(snap Snapshot) {
	p.lmu.Lock()
	listeners := append([]listenerEntry{}, p.listeners...)
	p.lmu.Unlock()
	for _, l := range listeners {
		l.fn(snap)
	}
}

// Run polls the source every interval until ctx is done. Polls are skipped while
// the gate is closed or when a push arrived within the last interval.
func (p *Provider) Run(ctx context.Context) {
	if p.source == nil {
		log.Println("No market factors source configured. Not polling.")
		return
	}
	log.Println("Starting market factors refresh loop...")

	p.pollOnce(ctx)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Market factors refresh loop shutting down.")
			return
		case <-timer.C:
			p.pollOnce(ctx)
			timer.Reset(p.interval)
		}
	}
}

func (p *Provider) pollOnce(ctx context.Context) {
	if p.gate != nil && !p.gate() {
		log.Debug("Skipping market factors poll: transport not connected.")
		return
	}
	if _, found := p.recent.Get(pushKey); found {
		log.Debug("Skipping market factors poll: recent push.")
		return
	}
	if err := p.Refresh(ctx); err != nil {
		log.Printf("Error refreshing market factors: %v", err)
	}
}

func decodePatch(env realtime.Envelope) (pricing.FactorsPatch, error) {
	if len(env.Payload) == 0 {
		return pricing.FactorsPatch{}, fmt.Errorf("%w: empty payload", realtime.ErrMalformedEnvelope)
	}
	var wrapped struct {
		Factors *pricing.FactorsPatch `json:"factors"`
	}
	if err := json.Unmarshal(env.Payload, &wrapped); err == nil && wrapped.Factors != nil {
		return *wrapped.Factors, nil
	}
	var patch pricing.FactorsPatch
	if err := env.Decode(&patch); err != nil {
		return pricing.FactorsPatch{}, err
	}
	return patch, nil
}
