package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Notification is a single LISTEN/NOTIFY event as handed to consumers.
// Decoded is nil unless Payload is a JSON object; treat it as read-only.
type Notification struct {
	Channel    string
	Payload    string
	Decoded    map[string]any
	PID        uint32
	ReceivedAt time.Time
}

// Conn is the part of a database connection the listener needs.
// Implementations are not required to be safe for concurrent use.
type Conn interface {
	Listen(ctx context.Context, channel string) error
	// WaitForNotification blocks until a notification arrives or ctx is done.
	// Only Channel, Payload and PID of the result are meaningful.
	WaitForNotification(ctx context.Context) (*Notification, error)
	Close(ctx context.Context) error
}

// DecodePayload parses raw as a JSON object. Anything else, including
// arrays, scalars and malformed text, yields nil.
func DecodePayload(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
