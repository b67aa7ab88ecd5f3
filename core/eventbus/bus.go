// Package eventbus provides pub/sub signaling between Vigil components.
//
// Delivery is at-most-once per subscription with no persistence or replay.
// There is no ordering guarantee across channels.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned when the broker cannot be reached.
	ErrNotConnected = errors.New("event bus not connected")
	// ErrClosed is returned for operations on a closed bus or subscription.
	ErrClosed = errors.New("event bus closed")
)

// Event is a message received from or published to a channel.
type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Bus publishes events and opens subscriptions.
type Bus interface {
	// Connect establishes the broker connection. Calling it again on a
	// connected bus is a no-op.
	Connect(ctx context.Context) error
	// Publish serializes payload to JSON and sends it on channel, connecting
	// first if needed.
	Publish(ctx context.Context, channel string, payload any) error
	// Subscribe opens a subscription to the given channels.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

// Subscription delivers events until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// NewEvent builds an envelope for payload on channel.
func NewEvent(channel string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode payload for %s: %w", channel, err)
	}
	return Event{
		ID:          uuid.NewString(),
		Name:        channel,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Encode returns the wire form of the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeMessage parses a message received on channel. Messages that are
// not envelopes are wrapped as the payload of an event named after the
// channel, so external producers may publish bare JSON.
func DecodeMessage(channel string, data []byte) (Event, error) {
	var envelope Event
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Name != "" && len(envelope.Payload) > 0 {
		if envelope.PublishedAt.IsZero() {
			envelope.PublishedAt = time.Now().UTC()
		}
		return envelope, nil
	}

	if !json.Valid(data) {
		return Event{}, fmt.Errorf("message on %s is not valid JSON", channel)
	}
	return Event{
		Name:        channel,
		Payload:     json.RawMessage(append([]byte(nil), data...)),
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event payload into T.
func Decode[T any](e Event) (T, error) {
	var out T
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return out, nil
}
