package subscription

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"repair-pricing-backend/internal/realtime"
)

// Callback receives an inbound envelope for a subscribed topic.
type Callback func(realtime.Envelope)

// Filter decides whether an envelope is delivered to a subscription.
type Filter func(realtime.Envelope) bool

// Announcer sends subscribe and unsubscribe envelopes to the server. It reports
// whether the envelope was written.
type Announcer func(realtime.Envelope) bool

// Descriptor identifies one live subscription as announced to the server.
type Descriptor struct {
	ID     string         `json:"id"`
	Topic  string         `json:"topic"`
	Params map[string]any `json:"params,omitempty"`
}

type entry struct {
	Descriptor
	cb     Callback
	filter Filter
	active atomic.Bool
}

// Option customizes a subscription.
type Option func(*entry)

// WithFilter restricts delivery to envelopes for which fn returns true.
func WithFilter(fn Filter) Option {
	return func(e *entry) { e.filter = fn }
}

// WithParams attaches parameters announced to the server with the subscription.
func WithParams(params map[string]any) Option {
	return func(e *entry) { e.Params = params }
}

// Router fans inbound envelopes out to subscriptions keyed by topic. Delivery is
// synchronous and in subscription order; a panicking callback does not affect
// delivery to the others.
type Router struct {
	mu       sync.Mutex
	entries  []*entry
	announce Announcer
}

func NewRouter() *Router {
	return &Router{}
}

// SetAnnouncer attaches the outbound side. Pass nil to detach.
func (r *Router) SetAnnouncer(a Announcer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announce = a
}

// Subscribe registers cb for envelopes whose type equals topic and returns the
// subscription id.
func (r *Router) Subscribe(topic string, cb Callback, opts ...Option) string {
	e := &entry{
		Descriptor: Descriptor{ID: uuid.NewString(), Topic: topic},
		cb:         cb,
	}
	for _, o := range opts {
		o(e)
	}
	e.active.Store(true)

	r.mu.Lock()
	r.entries = append(r.entries, e)
	announce := r.announce
	r.mu.Unlock()

	if announce != nil {
		if env, ok := descriptorEnvelope(realtime.TypeSubscribe, e.Descriptor); ok {
			announce(env)
		}
	}
	return e.ID
}

// Unsubscribe removes the subscription. No callback for id runs after it returns,
// except one already in progress on another goroutine.
func (r *Router) Unsubscribe(id string) bool {
	r.mu.Lock()
	var removed *entry
	for i, e := range r.entries {
		if e.ID == id {
			removed = e
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			break
		}
	}
	announce := r.announce
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	removed.active.Store(false)
	if announce != nil {
		if env, ok := descriptorEnvelope(realtime.TypeUnsubscribe, removed.Descriptor); ok {
			announce(env)
		}
	}
	return true
}

// Dispatch delivers env to every live subscription for env.Type.
func (r *Router) Dispatch(env realtime.Envelope) {
	r.mu.Lock()
	targets := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Topic == env.Type {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	for _, e := range targets {
		if !e.active.Load() {
			continue
		}
		r.deliver(e, env)
	}
}

func (r *Router) deliver(e *entry, env realtime.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(log.Fields{"subscription": e.ID, "topic": e.Topic}).
				Errorf("Subscriber panicked: %v", rec)
		}
	}()
	if e.filter != nil && !e.filter(env) {
		return
	}
	e.cb(env)
}

// Descriptors returns the subscribe envelopes for every live subscription in
// registration order. The transport replays them after each connect.
func (r *Router) Descriptors() []realtime.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.Envelope, 0, len(r.entries))
	for _, e := range r.entries {
		if env, ok := descriptorEnvelope(realtime.TypeSubscribe, e.Descriptor); ok {
			out = append(out, env)
		}
	}
	return out
}

// Reset drops every subscription without announcing anything.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.active.Store(false)
	}
	r.entries = nil
}

// Len returns the number of live subscriptions.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func descriptorEnvelope(eventType string, d Descriptor) (realtime.Envelope, bool) {
	env, err := realtime.NewEnvelope(eventType, d)
	if err != nil {
		log.Printf("Failed to encode %s for %s: %v", eventType, d.Topic, err)
		return realtime.Envelope{}, false
	}
	env.ID = d.ID
	return env, true
}

// DecodeDescriptor reads the descriptor carried by a subscribe or unsubscribe envelope.
func DecodeDescriptor(env realtime.Envelope) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(env.Payload, &d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
