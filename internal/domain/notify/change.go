package notify

import (
	"encoding/json"
	"time"
)

const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// AllChangesChannel receives a copy of every table change event.
const AllChangesChannel = "store:all"

// TableChannel returns the per-table change channel, e.g. "table:store_encounter:change".
func TableChannel(table string) string {
	return "table:" + table + ":change"
}

// ChangeEvent is the structured payload emitted for row changes.
type ChangeEvent struct {
	Event     string         `json:"event"`
	Table     string         `json:"table"`
	Schema    string         `json:"schema,omitempty"`
	ID        any            `json:"id"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

func NewChangeEvent(event, table string) ChangeEvent {
	return ChangeEvent{
		Event:     event,
		Table:     table,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (e ChangeEvent) Payload() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseChangeEvent reads a ChangeEvent out of a decoded notification.
// ok is false when the payload is not an object carrying event or table.
func ParseChangeEvent(n Notification) (ev ChangeEvent, ok bool) {
	if n.Decoded == nil {
		return ChangeEvent{}, false
	}
	ev.Event, _ = n.Decoded["event"].(string)
	ev.Table, _ = n.Decoded["table"].(string)
	if ev.Event == "" && ev.Table == "" {
		return ChangeEvent{}, false
	}
	ev.Schema, _ = n.Decoded["schema"].(string)
	ev.ID = n.Decoded["id"]
	ev.Data, _ = n.Decoded["data"].(map[string]any)
	ev.Timestamp, _ = n.Decoded["timestamp"].(string)
	return ev, true
}
