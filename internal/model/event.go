package model

import (
	"time"
)

// Event is a routed notification about a device, build, or lock change.
// Routing is driven by the addressing fields: an event with To set is
// delivered point-to-point to that single subscriber; otherwise an event
// with Device set is delivered to the device topic and the global topic.
type Event struct {
	// Type names the event family, e.g. "build", "lock", "device".
	Type string `json:"type"`

	// Action is the sub-kind within the family, e.g. "pushStage".
	Action string `json:"action,omitempty"`

	// Device is the identifier of the device the event concerns.
	Device string `json:"device,omitempty"`

	// To, when non-empty, restricts delivery to the single subscriber
	// with this connection token. It is addressing metadata, not payload.
	To string `json:"-"`

	// Now is the emission timestamp.
	Now time.Time `json:"now"`

	// Payload is the event body; for build events this is a BuildView,
	// for lock events a LockEntry (nil when the lock became free).
	Payload any `json:"payload,omitempty"`
}
