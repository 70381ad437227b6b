// Package syncproto defines the JSON envelope exchanged on the sync bus and
// the codec both backend and clients use to read it.
package syncproto

import (
	"encoding/json"
	"fmt"
	"time"
)

type Event string

const (
	EventTaskCreated  Event = "task_created"
	EventTaskUpdated  Event = "task_updated"
	EventTaskDeleted  Event = "task_deleted"
	EventSyncResponse Event = "sync_response"
)

func (e Event) Valid() bool {
	switch e {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted, EventSyncResponse:
		return true
	default:
		return false
	}
}

// Envelope wraps every broadcast on the sync topic. Timestamp is assigned by
// the publisher at encode time; consumers must not trust Data blindly.
type Envelope struct {
	Event     Event           `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

type DecodeReason string

const (
	ReasonMalformedJSON DecodeReason = "malformed-json"
	ReasonUnknownEvent  DecodeReason = "unknown-event"
	ReasonBadTimestamp  DecodeReason = "bad-timestamp"
)

type DecodeError struct {
	Reason DecodeReason
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode sync message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode sync message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func Encode(event Event, data any, now time.Time) ([]byte, error) {
	if !event.Valid() {
		return nil, &DecodeError{Reason: ReasonUnknownEvent}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Event:     event,
		Data:      raw,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: ReasonMalformedJSON, Err: err}
	}
	if !env.Event.Valid() {
		return Envelope{}, &DecodeError{Reason: ReasonUnknownEvent, Err: fmt.Errorf("event %q", env.Event)}
	}
	return env, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp accepts ISO-8601 with an explicit offset, a trailing Z, or no
// zone designator at all (taken as UTC). Anything else is a bad-timestamp
// decode failure, never a silent coercion.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &DecodeError{Reason: ReasonBadTimestamp, Err: fmt.Errorf("empty timestamp")}
	}
	for i, layout := range timestampLayouts {
		var t time.Time
		var err error
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.UTC)
		}
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &DecodeError{Reason: ReasonBadTimestamp, Err: fmt.Errorf("timestamp %q", s)}
}
