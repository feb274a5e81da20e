package booking

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"repair-pricing-backend/internal/realtime"
	"repair-pricing-backend/internal/subscription"
)

// Change is a status update as seen by any-status listeners.
type Change struct {
	Update   StatusUpdate
	Previous Status
	// Valid is false when Previous -> Update.Status is not a legal transition.
	// The update is delivered either way.
	Valid bool
}

// lastStatusTTL bounds how long the last observed status of an idle booking is kept.
const lastStatusTTL = 72 * time.Hour

type callbackEntry struct {
	id int
	fn func(Progress)
}

type tracked struct {
	subID      string
	generation uint64
	callbacks  []callbackEntry
}

type anyEntry struct {
	id int
	fn func(Change)
}

// Tracker follows booking status updates from the push channel. For each tracked
// booking it fetches the authoritative progress on every update and hands it to
// the local callbacks registered for that booking.
type Tracker struct {
	router       *subscription.Router
	store        ProgressStore
	fetchTimeout time.Duration

	mu       sync.Mutex
	bookings map[string]*tracked
	last     *cache.Cache
	anyFns   []anyEntry
	nextID   int
	anySubID string
	inflight sync.WaitGroup
}

// NewTracker subscribes to booking status updates on router.
func NewTracker(router *subscription.Router, store ProgressStore, fetchTimeout time.Duration) *Tracker {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	t := &Tracker{
		router:       router,
		store:        store,
		fetchTimeout: fetchTimeout,
		bookings:     make(map[string]*tracked),
		last:         cache.New(lastStatusTTL, time.Hour),
	}
	t.anySubID = router.Subscribe(realtime.TypeBookingStatusUpdate, t.handleAny)
	return t
}

// Track registers onProgress for bookingID and returns a function that removes it.
// Several callbacks may track the same booking; each is removed independently.
func (t *Tracker) Track(bookingID string, onProgress func(Progress)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	entry, ok := t.bookings[bookingID]
	if !ok {
		entry = &tracked{}
		t.bookings[bookingID] = entry
	}
	entry.callbacks = append(entry.callbacks, callbackEntry{id: id, fn: onProgress})
	t.mu.Unlock()

	if !ok {
		subID := t.router.Subscribe(realtime.TypeBookingStatusUpdate,
			func(env realtime.Envelope) { t.handleUpdate(bookingID, env) },
			subscription.WithFilter(forBooking(bookingID)),
			subscription.WithParams(map[string]any{"bookingId": bookingID}),
		)
		t.mu.Lock()
		if t.bookings[bookingID] == entry {
			entry.subID = subID
			subID = ""
		}
		t.mu.Unlock()
		if subID != "" {
			// Untracked before the subscription was recorded.
			t.router.Unsubscribe(subID)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { t.untrack(bookingID, entry, id) })
	}
}

func (t *Tracker) untrack(bookingID string, entry *tracked, id int) {
	t.mu.Lock()
	for i, cb := range entry.callbacks {
		if cb.id == id {
			entry.callbacks = append(entry.callbacks[:i:i], entry.callbacks[i+1:]...)
			break
		}
	}
	var subID string
	if len(entry.callbacks) == 0 && t.bookings[bookingID] == entry {
		delete(t.bookings, bookingID)
		entry.generation++
		subID = entry.subID
	}
	t.mu.Unlock()

	if subID != "" {
		t.router.Unsubscribe(subID)
	}
}

// Tracked reports how many bookings have at least one callback.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bookings)
}

// OnAnyStatusChange registers fn for every booking status update, tracked or not.
func (t *Tracker) OnAnyStatusChange(fn func(Change)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.anyFns = append(t.anyFns, anyEntry{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, e := range t.anyFns {
			if e.id == id {
				t.anyFns = append(t.anyFns[:i:i], t.anyFns[i+1:]...)
				return
			}
		}
	}
}

// Wait blocks until all in-flight progress fetches have finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

func (t *Tracker) handleAny(env realtime.Envelope) {
	update, err := decodeUpdate(env)
	if err != nil {
		log.WithField("id", env.ID).Warnf("Ignoring booking status update: %v", err)
		return
	}

	t.mu.Lock()
	var previous Status
	if v, ok := t.last.Get(update.BookingID); ok {
		previous = v.(Status)
	}
	if update.Status.IsTerminal() {
		t.last.Delete(update.BookingID)
	} else {
		t.last.SetDefault(update.BookingID, update.Status)
	}
	listeners := append([]anyEntry{}, t.anyFns...)
	t.mu.Unlock()

	change := Change{Update: update, Previous: previous, Valid: previous == "" || CanTransition(previous, update.Status)}
	if !change.Valid {
		log.WithFields(log.Fields{
			"booking": update.BookingID,
			"from":    previous,
			"to":      update.Status,
		}).Warn("Observed illegal booking status transition")
	}

	for _, l := range listeners {
		notifyAny(l.fn, change)
	}
}

func notifyAny(fn func(Change), change Change) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("booking", change.Update.BookingID).Errorf("Status change listener panicked: %v", rec)
		}
	}()
	fn(change)
}

func (t *Tracker) handleUpdate(bookingID string, env realtime.Envelope) {
	update, err := decodeUpdate(env)
	if err != nil {
		return
	}

	t.mu.Lock()
	entry, ok := t.bookings[bookingID]
	if !ok {
		t.mu.Unlock()
		return
	}
	entry.generation++
	gen := entry.generation
	t.mu.Unlock()

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		progress := t.fetch(bookingID, update)
		t.deliver(bookingID, entry, gen, progress)
	}()
}

func (t *Tracker) fetch(bookingID string, update StatusUpdate) Progress {
	ctx, cancel := context.WithTimeout(context.Background(), t.fetchTimeout)
	defer cancel()

	progress, err := t.store.Progress(ctx, bookingID)
	if err != nil {
		log.WithField("booking", bookingID).Warnf("Falling back to push data for progress: %v", err)
		p := BuildProgress(bookingID, []StatusUpdate{update})
		p.Degraded = true
		return p
	}
	return progress.normalize(bookingID)
}

// deliver hands progress to the callbacks still registered, unless the fetch was
// superseded by a newer update or the booking was untracked meanwhile.
func (t *Tracker) deliver(bookingID string, entry *tracked, gen uint64, progress Progress) {
	t.mu.Lock()
	if t.bookings[bookingID] != entry || entry.generation != gen {
		t.mu.Unlock()
		log.WithField("booking", bookingID).Debug("Discarding stale progress fetch")
		return
	}
	callbacks := append([]callbackEntry{}, entry.callbacks...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		if !t.stillRegistered(entry, cb.id) {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("booking", bookingID).Errorf("Progress callback panicked: %v", rec)
				}
			}()
			cb.fn(progress)
		}()
	}
}

func (t *Tracker) stillRegistered(entry *tracked, id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cb := range entry.callbacks {
		if cb.id == id {
			return true
		}
	}
	return false
}

func forBooking(bookingID string) subscription.Filter {
	return func(env realtime.Envelope) bool {
		update, err := decodeUpdate(env)
		return err == nil && update.BookingID == bookingID
	}
}

func decodeUpdate(env realtime.Envelope) (StatusUpdate, error) {
	var update StatusUpdate
	if err := env.Decode(&update); err != nil {
		return StatusUpdate{}, err
	}
	if update.BookingID == "" || update.Status == "" {
		return StatusUpdate{}, realtime.ErrMalformedEnvelope
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = env.Timestamp
	}
	return update, nil
}
