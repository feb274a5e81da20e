package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repair-pricing-backend/internal/realtime"
	"repair-pricing-backend/internal/subscription"
)

// fakeStore answers Progress calls through a function so tests control timing.
type fakeStore struct {
	calls    atomic.Int32
	progress func(call int32, bookingID string) (Progress, error)
}

func (f *fakeStore) Progress(_ context.Context, bookingID string) (Progress, error) {
	n := f.calls.Add(1)
	return f.progress(n, bookingID)
}

// collector records the progress objects delivered to a callback.
type collector struct {
	mu  sync.Mutex
	got []Progress
}

func (c *collector) add(p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, p)
}

func (c *collector) all() []Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Progress{}, c.got...)
}

func statusEnvelope(t *testing.T, bookingID string, status Status) realtime.Envelope {
	env, err := realtime.NewEnvelope(realtime.TypeBookingStatusUpdate, StatusUpdate{
		BookingID: bookingID,
		Status:    status,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		UpdatedBy: "tech-7",
	})
	require.NoError(t, err)
	return env
}

func TestTracker_CancelledBookingStillDeliversFullProgress(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	history := []StatusUpdate{
		{BookingID: "b-1", Status: StatusPending, Timestamp: at},
		{BookingID: "b-1", Status: StatusConfirmed, Timestamp: at.Add(time.Hour)},
		{BookingID: "b-1", Status: StatusDiagnosis, Timestamp: at.Add(2 * time.Hour)},
		{BookingID: "b-1", Status: StatusQuotePending, Timestamp: at.Add(3 * time.Hour)},
		{BookingID: "b-1", Status: StatusCancelled, Timestamp: at.Add(4 * time.Hour)},
	}
	store := &fakeStore{progress: func(int32, string) (Progress, error) {
		// The upstream percentage is stale; the tracker recomputes it.
		return Progress{Status: StatusCancelled, History: history, Percentage: 45}, nil
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var c collector
	stop := tracker.Track("b-1", c.add)
	defer stop()

	router.Dispatch(statusEnvelope(t, "b-1", StatusCancelled))
	tracker.Wait()

	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, "b-1", got[0].BookingID)
	assert.Equal(t, StatusCancelled, got[0].Status)
	assert.Equal(t, 0, got[0].Percentage)
	assert.Len(t, got[0].History, 5)
	assert.False(t, got[0].Degraded)
}

func TestTracker_IndependentCallbacksForSameBooking(t *testing.T) {
	store := &fakeStore{progress: func(_ int32, id string) (Progress, error) {
		return BuildProgress(id, []StatusUpdate{{BookingID: id, Status: StatusTesting}}), nil
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var first, second collector
	stopFirst := tracker.Track("b-2", first.add)
	stopSecond := tracker.Track("b-2", second.add)
	assert.Equal(t, 1, tracker.Tracked())

	router.Dispatch(statusEnvelope(t, "b-2", StatusTesting))
	tracker.Wait()
	stopFirst()
	stopFirst()
	router.Dispatch(statusEnvelope(t, "b-2", StatusTesting))
	tracker.Wait()

	assert.Len(t, first.all(), 1)
	assert.Len(t, second.all(), 2)
	assert.Equal(t, 85, second.all()[1].Percentage)

	stopSecond()
	assert.Equal(t, 0, tracker.Tracked())
	assert.Equal(t, 1, router.Len(), "only the any-status subscription remains")
}

func TestTracker_LateFetchAfterUntrackIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	store := &fakeStore{progress: func(_ int32, id string) (Progress, error) {
		close(started)
		<-release
		return BuildProgress(id, nil), nil
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var c collector
	stop := tracker.Track("b-3", c.add)
	router.Dispatch(statusEnvelope(t, "b-3", StatusConfirmed))

	<-started
	stop()
	close(release)
	tracker.Wait()

	assert.Empty(t, c.all())
}

func TestTracker_SupersededFetchIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	firstStarted := make(chan struct{})
	store := &fakeStore{progress: func(call int32, id string) (Progress, error) {
		if call == 1 {
			close(firstStarted)
			<-release
			return BuildProgress(id, []StatusUpdate{{Status: StatusRepairStarted}}), nil
		}
		return BuildProgress(id, []StatusUpdate{{Status: StatusRepairProgress}}), nil
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var c collector
	defer tracker.Track("b-4", c.add)()

	router.Dispatch(statusEnvelope(t, "b-4", StatusRepairStarted))
	<-firstStarted
	router.Dispatch(statusEnvelope(t, "b-4", StatusRepairProgress))
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	tracker.Wait()

	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, StatusRepairProgress, got[0].Status)
}

func TestTracker_DegradedProgressWhenStoreFails(t *testing.T) {
	store := &fakeStore{progress: func(int32, string) (Progress, error) {
		return Progress{}, errors.New("bookings service unavailable")
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var c collector
	defer tracker.Track("b-5", c.add)()
	router.Dispatch(statusEnvelope(t, "b-5", StatusReadyPickup))
	tracker.Wait()

	got := c.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Degraded)
	assert.Equal(t, StatusReadyPickup, got[0].Status)
	assert.Equal(t, 95, got[0].Percentage)
	assert.Equal(t, StatusMessage(StatusReadyPickup).NextSteps, got[0].NextSteps)
}

func TestTracker_OnlyMatchingBookingIsFetched(t *testing.T) {
	store := &fakeStore{progress: func(_ int32, id string) (Progress, error) {
		return BuildProgress(id, nil), nil
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var c collector
	defer tracker.Track("mine", c.add)()
	router.Dispatch(statusEnvelope(t, "someone-else", StatusConfirmed))
	tracker.Wait()

	assert.Empty(t, c.all())
	assert.Equal(t, int32(0), store.calls.Load())
}

func TestTracker_AnyStatusChange(t *testing.T) {
	store := &fakeStore{progress: func(_ int32, id string) (Progress, error) {
		return BuildProgress(id, nil), nil
	}}
	router := subscription.NewRouter()
	tracker := NewTracker(router, store, time.Second)

	var changes []Change
	tracker.OnAnyStatusChange(func(Change) { panic("listener bug") })
	stop := tracker.OnAnyStatusChange(func(c Change) { changes = append(changes, c) })

	router.Dispatch(statusEnvelope(t, "b-6", StatusPending))
	router.Dispatch(statusEnvelope(t, "b-6", StatusConfirmed))
	router.Dispatch(statusEnvelope(t, "b-6", StatusTesting))
	router.Dispatch(realtime.Envelope{Type: realtime.TypeBookingStatusUpdate})
	stop()
	router.Dispatch(statusEnvelope(t, "b-6", StatusReadyPickup))

	require.Len(t, changes, 3)
	assert.Equal(t, Status(""), changes[0].Previous)
	assert.True(t, changes[0].Valid)
	assert.Equal(t, StatusPending, changes[1].Previous)
	assert.True(t, changes[1].Valid)
	assert.Equal(t, StatusConfirmed, changes[2].Previous)
	assert.False(t, changes[2].Valid, "confirmed -> testing skips the repair")
	assert.Equal(t, "tech-7", changes[2].Update.UpdatedBy)
	assert.Equal(t, int32(0), store.calls.Load(), "untracked bookings are not fetched")
}

func TestTracker_ForgetsBookingsThatFinished(t *testing.T) {
	router := subscription.NewRouter()
	tracker := NewTracker(router, &fakeStore{}, time.Second)

	var changes []Change
	tracker.OnAnyStatusChange(func(c Change) { changes = append(changes, c) })

	router.Dispatch(statusEnvelope(t, "b-7", StatusPending))
	router.Dispatch(statusEnvelope(t, "b-8", StatusConfirmed))
	assert.Equal(t, 2, tracker.last.ItemCount())

	router.Dispatch(statusEnvelope(t, "b-7", StatusCancelled))
	require.Len(t, changes, 3)
	assert.Equal(t, StatusPending, changes[2].Previous)
	assert.True(t, changes[2].Valid)

	assert.Equal(t, 1, tracker.last.ItemCount())
	_, kept := tracker.last.Get("b-8")
	assert.True(t, kept)
}
