package pubsub

import (
	"context"
	"encoding/json"
)

// Event is the envelope carried on a stream channel. Its shape matches the
// chat platform's wire events so that a bus-backed stream and a websocket
// stream decode the same payloads.
type Event struct {
	EventName string          `json:"event_name"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Subscriber subscribes to events from the event bus.
type Subscriber interface {
	// Subscribe returns a channel of events published on channel. The
	// returned channel is closed when ctx is done, the subscription is
	// removed, or the underlying connection fails permanently.
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}
