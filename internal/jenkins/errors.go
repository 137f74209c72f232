package jenkins

import (
	"fmt"
)

// AuthError reports that the lock manager rejected the supplied
// credentials. The message is surfaced to the caller verbatim.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "invalid credentials"
	}
	return e.Message
}

// ProtocolError reports a response the lock manager should not have sent,
// such as a token document missing the crumb fields.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected lock manager response: %s", e.Message)
}

// TransportError wraps a network-level failure (DNS, connection refused,
// timeout) talking to the lock manager. Callers decide retry policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("lock manager unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
