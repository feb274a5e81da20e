package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repair-pricing-backend/internal/booking"
	"repair-pricing-backend/internal/model"
	"repair-pricing-backend/internal/realtime"
)

func TestGetBookingProgress(t *testing.T) {
	env := newTestEnv(t)
	env.bookings.setProgress(booking.BuildProgress("b-1", []booking.StatusUpdate{
		{BookingID: "b-1", Status: booking.StatusDiagnosis, Timestamp: testClock},
	}))

	w := env.do(http.MethodGet, "/api/bookings/b-1/progress", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p booking.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, booking.StatusDiagnosis, p.Status)
	assert.Equal(t, 30, p.Percentage)

	w = env.do(http.MethodGet, "/api/bookings/nope/progress", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBookingHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.RecordStatusUpdate(ctx, &model.BookingStatusRecord{
		BookingID: "b-1", Status: "pending", Valid: true, ObservedAt: testClock,
	}))
	require.NoError(t, env.store.RecordStatusUpdate(ctx, &model.BookingStatusRecord{
		BookingID: "b-1", Status: "confirmed", PreviousStatus: "pending", Valid: true, ObservedAt: testClock.Add(time.Minute),
	}))

	w := env.do(http.MethodGet, "/api/bookings/b-1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		History []model.BookingStatusRecord `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.History, 2)
	assert.Equal(t, "confirmed", body.History[1].Status)

	w = env.do(http.MethodGet, "/api/bookings/b-1/history?source=sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBookingHistoryFromUpstream(t *testing.T) {
	env := newTestEnv(t)
	env.bookings.setProgress(booking.BuildProgress("b-1", []booking.StatusUpdate{
		{BookingID: "b-1", Status: booking.StatusPending, Timestamp: testClock},
		{BookingID: "b-1", Status: booking.StatusConfirmed, Timestamp: testClock.Add(time.Minute), UpdatedBy: "front-desk"},
	}))

	w := env.do(http.MethodGet, "/api/bookings/b-1/history?source=upstream", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Source  string                 `json:"source"`
		History []booking.StatusUpdate `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "upstream", body.Source)
	require.Len(t, body.History, 2)
	assert.Equal(t, booking.StatusConfirmed, body.History[1].Status)
	assert.Equal(t, "front-desk", body.History[1].UpdatedBy)

	w = env.do(http.MethodGet, "/api/bookings/nope/history?source=upstream", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBookingMessages(t *testing.T) {
	env := newTestEnv(t)
	env.bookings.messages["b-1"] = []booking.CustomerMessage{
		{ID: "m-1", BookingID: "b-1", Title: "Quote ready", Actions: []booking.MessageAction{{ID: "approve", Label: "Approve"}}},
	}

	w := env.do(http.MethodGet, "/api/bookings/b-1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Quote ready")

	w = env.do(http.MethodPost, "/api/messages/m-1/read", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(http.MethodPost, "/api/messages/missing/read", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/messages/m-1/actions/approve", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"m-1"}, env.bookings.read)
	assert.Equal(t, []string{"m-1/approve"}, env.bookings.actions)
}

func TestStreamBookingProgress(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/bookings/b-7/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	// Unknown to the bookings service, so the stream opens with a ready event.
	readEvent(t, reader, "ready")
	assert.Equal(t, 1, env.tracker.Tracked())

	env.bookings.setProgress(booking.BuildProgress("b-7", []booking.StatusUpdate{
		{BookingID: "b-7", Status: booking.StatusConfirmed, Timestamp: testClock},
		{BookingID: "b-7", Status: booking.StatusRepairStarted, Timestamp: testClock.Add(time.Hour)},
	}))
	update, err := realtime.NewEnvelope(realtime.TypeBookingStatusUpdate, booking.StatusUpdate{
		BookingID: "b-7", Status: booking.StatusRepairStarted, Timestamp: testClock.Add(time.Hour),
	})
	require.NoError(t, err)
	env.events.Dispatch(update)

	var p booking.Progress
	require.NoError(t, json.Unmarshal(readEvent(t, reader, "progress"), &p))
	assert.Equal(t, booking.StatusRepairStarted, p.Status)
	assert.Equal(t, 60, p.Percentage)
	assert.Len(t, p.History, 2)

	cancel()
	resp.Body.Close()
	assert.Eventually(t, func() bool { return env.tracker.Tracked() == 0 }, 2*time.Second, 10*time.Millisecond)
}
