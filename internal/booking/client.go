package booking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"repair-pricing-backend/internal/httpx"
)

// HTTPProgressStore reads booking progress from the bookings service.
type HTTPProgressStore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPProgressStore(baseURL, token string, client *http.Client) *HTTPProgressStore {
	return &HTTPProgressStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (s *HTTPProgressStore) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(escaped, "/")
}

func (s *HTTPProgressStore) do(ctx context.Context, method, target string, out any) error {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return httpx.DoJSON(ctx, s.client, req, s.token, out)
}

// Progress fetches GET /bookings/{id}/progress.
func (s *HTTPProgressStore) Progress(ctx context.Context, bookingID string) (Progress, error) {
	var p Progress
	if err := s.do(ctx, http.MethodGet, s.url("bookings", bookingID, "progress"), &p); err != nil {
		return Progress{}, fmt.Errorf("fetch progress for booking %s: %w", bookingID, err)
	}
	return p.normalize(bookingID), nil
}

// StatusHistory fetches GET /bookings/{id}/status-history.
func (s *HTTPProgressStore) StatusHistory(ctx context.Context, bookingID string) ([]StatusUpdate, error) {
	var history []StatusUpdate
	if err := s.do(ctx, http.MethodGet, s.url("bookings", bookingID, "status-history"), &history); err != nil {
		return nil, fmt.Errorf("fetch status history for booking %s: %w", bookingID, err)
	}
	return history, nil
}

// Messages fetches GET /bookings/{id}/messages.
func (s *HTTPProgressStore) Messages(ctx context.Context, bookingID string) ([]CustomerMessage, error) {
	var messages []CustomerMessage
	if err := s.do(ctx, http.MethodGet, s.url("bookings", bookingID, "messages"), &messages); err != nil {
		return nil, fmt.Errorf("fetch messages for booking %s: %w", bookingID, err)
	}
	return messages, nil
}

// MarkMessageRead calls POST /messages/{id}/read.
func (s *HTTPProgressStore) MarkMessageRead(ctx context.Context, messageID string) error {
	if err := s.do(ctx, http.MethodPost, s.url("messages", messageID, "read"), nil); err != nil {
		return fmt.Errorf("mark message %s read: %w", messageID, err)
	}
	return nil
}

// PerformMessageAction calls POST /messages/{id}/actions/{actionId}.
func (s *HTTPProgressStore) PerformMessageAction(ctx context.Context, messageID, actionID string) error {
	if err := s.do(ctx, http.MethodPost, s.url("messages", messageID, "actions", actionID), nil); err != nil {
		return fmt.Errorf("perform action %s on message %s: %w", actionID, messageID, err)
	}
	return nil
}
