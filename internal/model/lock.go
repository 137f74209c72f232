package model

import (
	"time"
)

// HolderType identifies what kind of entity holds a lock on the external
// lock manager.
type HolderType string

const (
	// HolderUser means the lock was reserved manually by a person.
	HolderUser HolderType = "user"

	// HolderBuild means the lock is held by an automated build.
	HolderBuild HolderType = "build"
)

// LockEntry describes the current holder of a single lock as reported by
// the external lock manager. Locks that are free never appear as entries;
// absence from a snapshot means the lock is not held.
type LockEntry struct {
	// Owner is the holder identifier: a user name for user-type holders,
	// or a build identifier for build-type holders.
	Owner string `json:"owner"`

	// Type is the kind of holder (user or build).
	Type HolderType `json:"type"`

	// Date is when the reservation was made. Only user-type reservations
	// carry a timestamp; it is nil otherwise.
	Date *time.Time `json:"date,omitempty"`
}

// ReservationRequest asks the service to change reservation state for a
// device's lock on the external lock manager.
type ReservationRequest struct {
	// Action is either "reserve" or "unreserve".
	Action string `json:"action"`
}

// CredentialsRequest carries a set of lock-manager credentials to be
// validated without performing any mutation.
type CredentialsRequest struct {
	Username string `json:"username"`
	APIToken string `json:"api_token"`
}

// Response is the generic envelope for API operation results.
type Response struct {
	// Status is "ok" for successful operations and "error" otherwise.
	Status string `json:"status"`

	// Message provides additional context about the operation result.
	Message string `json:"message,omitempty"`
}
