package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the user declines display capture.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrNoSourceAvailable is returned when no capturable surface exists.
	ErrNoSourceAvailable = errors.New("no capture source available")

	// ErrInvalidIntent is returned for intents that are not valid in the
	// current session state. Rejected locally, never reaches a sub-component.
	ErrInvalidIntent = errors.New("invalid intent for current state")

	// ErrChannelClosed reports a mid-session transport closure.
	ErrChannelClosed = errors.New("signaling channel closed")
)

// SignalingError reports a link open or connect failure.
type SignalingError struct {
	Reason string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling error: %s", e.Reason)
}

// CallError reports a media negotiation fault.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
