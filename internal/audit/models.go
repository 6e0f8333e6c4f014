package audit

import "time"

// Event is an immutable, append-only record of one committed call lifecycle change.
//
// Invariants:
// - Events are never updated or deleted, even when the call itself is cleared.
// - call_id is required.
// - Recording is best-effort; a failed append never fails the call operation.
//
// Storage (Postgres): table call_audit_events, INSERT-only.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Type   EventType `json:"type" db:"type"`

	// Origin is who caused the change: app, call_ui or push.
	Origin string `json:"origin,omitempty" db:"origin"`

	// State and Reason are the session values after the change.
	State  string `json:"state,omitempty" db:"state"`
	Reason string `json:"reason,omitempty" db:"reason"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeReported           EventType = "reported"
	EventTypeAnswered           EventType = "answered"
	EventTypeEnded              EventType = "ended"
	EventTypeMuted              EventType = "muted"
	EventTypeStateTagged        EventType = "state_tagged"
	EventTypeCleared            EventType = "cleared"
	EventTypePresentationFailed EventType = "presentation_failed"
)
