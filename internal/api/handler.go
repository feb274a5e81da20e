package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"

	"repair-pricing-backend/internal/booking"
	"repair-pricing-backend/internal/catalog"
	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/realtime"
	"repair-pricing-backend/internal/recommend"
	"repair-pricing-backend/internal/store"
)

// BookingService is the remote bookings API used for progress and messages.
type BookingService interface {
	Progress(ctx context.Context, bookingID string) (booking.Progress, error)
	StatusHistory(ctx context.Context, bookingID string) ([]booking.StatusUpdate, error)
	Messages(ctx context.Context, bookingID string) ([]booking.CustomerMessage, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	PerformMessageAction(ctx context.Context, messageID, actionID string) error
}

// ConnectionState reports the push channel state.
type ConnectionState interface {
	State() realtime.State
}

// Services bundles the components the handlers call into.
type Services struct {
	Store     store.Store
	Estimator *catalog.Estimator
	Composer  *recommend.Composer
	Factors   *factors.Provider
	Tracker   *booking.Tracker
	Bookings  BookingService
	Realtime  ConnectionState
	WebPush   *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	estimator *catalog.Estimator
	composer  *recommend.Composer
	factors   *factors.Provider
	tracker   *booking.Tracker
	bookings  BookingService
	realtime  ConnectionState
	webpush   *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(svc Services) *Handler {
	return &Handler{
		store:     svc.Store,
		estimator: svc.Estimator,
		composer:  svc.Composer,
		factors:   svc.Factors,
		tracker:   svc.Tracker,
		bookings:  svc.Bookings,
		realtime:  svc.Realtime,
		webpush:   svc.WebPush,
	}
}
