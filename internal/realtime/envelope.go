package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known envelope types on the push channel.
const (
	TypeBookingStatusUpdate = "booking-status-update"
	TypePricingUpdate       = "pricing-update"
	TypeQueueUpdate         = "queue-update"
	TypeNotification        = "notification"
	TypeSystemMessage       = "system-message"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeSubscribe           = "subscribe"
	TypeUnsubscribe         = "unsubscribe"
)

// Envelope is the typed message carried over the push channel in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

var ErrMalformedEnvelope = errors.New("malformed envelope")

// NewEnvelope builds an outbound envelope with a fresh id and the current time.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ID:        uuid.NewString(),
	}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	env.Payload = data
	return env, nil
}

// DecodeEnvelope parses an inbound frame. The timestamp may be an RFC 3339 string
// or unix milliseconds; a missing timestamp is left zero.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var wire struct {
		Type      string          `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp json.RawMessage `json:"timestamp"`
		ID        string          `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(wire.Type) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	payload := wire.Payload
	if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = nil
	}
	return Envelope{Type: wire.Type, Payload: payload, Timestamp: ts, ID: wire.ID}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.Type, err)
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var ts time.Time
		if err := json.Unmarshal(raw, &ts); err != nil {
			return time.Time{}, err
		}
		return ts, nil
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}
