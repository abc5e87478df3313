package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Event is one cart lifecycle notification.
type Event struct {
	Topic      string
	InstanceID string
	OccurredAt time.Time
	Payload    any
}

// Notifier reacts to emitted events (logging, webhooks, metrics, ...). The
// engine never consumes a notifier's result beyond logging it.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans cart lifecycle events out to the configured notifiers.
// Fire-and-forget: notifier failures are joined and returned for logging but
// never affect the mutation that triggered them.
type Bus struct {
	Now       func() time.Time
	Notifiers []Notifier
}

// Emit dispatches the event to all configured notifiers.
func (b *Bus) Emit(ctx context.Context, topic, instanceID string, payload any) error {
	if b == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	if strings.TrimSpace(instanceID) == "" {
		return errors.New("events: instance id is required")
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		Topic:      topic,
		InstanceID: instanceID,
		OccurredAt: now(),
		Payload:    payload,
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return joined
}

// LogNotifier writes every event to a structured log. It is the default
// notifier wired by the API binary.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	n.Logger.Info().
		Str("topic", event.Topic).
		Str("instance_id", event.InstanceID).
		Time("occurred_at", event.OccurredAt).
		Interface("payload", event.Payload).
		Msg("cart_event")
	return nil
}
