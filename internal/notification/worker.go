package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"

	"repair-pricing-backend/internal/booking"
	"repair-pricing-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Subscriptions is the part of the store the workers need.
type Subscriptions interface {
	SubscriptionsForBooking(ctx context.Context, bookingID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	BookingID string         `json:"bookingId"`
	Status    booking.Status `json:"status"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
}

// WorkerPool manages a pool of workers for sending booking notifications.
type WorkerPool struct {
	size    int
	jobs    chan booking.Change
	subs    Subscriptions
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, subs Subscriptions, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan booking.Change, size*16),
		subs:    subs,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the push sender. It must be called before Start.
func (wp *WorkerPool) SetSender(sender NotificationSender) {
	wp.sender = sender
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debugf("Worker %d started", id)
	for {
		select {
		case change := <-wp.jobs:
			log.Debugf("Worker %d processing booking %s", id, change.Update.BookingID)
			wp.sendNotificationsForBooking(ctx, change)
		case <-ctx.Done():
			log.Debugf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a status change for delivery. It never blocks the caller;
// when the queue is full the change is dropped and false is returned.
func (wp *WorkerPool) Dispatch(change booking.Change) bool {
	select {
	case wp.jobs <- change:
		return true
	default:
		log.Warnf("Notification queue full; dropping update for booking %s", change.Update.BookingID)
		return false
	}
}

// NewPayload renders the notification for a status change.
func NewPayload(change booking.Change) Payload {
	msg := booking.StatusMessage(change.Update.Status)
	return Payload{
		BookingID: change.Update.BookingID,
		Status:    change.Update.Status,
		Title:     msg.Title,
		Body:      msg.Body,
	}
}

func (wp *WorkerPool) sendNotificationsForBooking(ctx context.Context, change booking.Change) {
	bookingID := change.Update.BookingID
	subscriptions, err := wp.subs.SubscriptionsForBooking(ctx, bookingID)
	if err != nil {
		log.Printf("Error fetching subscriptions for booking %s: %v", bookingID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(NewPayload(change))
	if err != nil {
		log.Printf("Error encoding notification for booking %s: %v", bookingID, err)
		return
	}

	log.Printf("Sending %d notifications for booking %s", len(subscriptions), bookingID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions are removed along with their booking links.
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
