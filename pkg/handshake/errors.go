// Package handshake implements the two-message WireGuard-style initiation
// and response state machine: wire codec plus initiator/responder roles.
package handshake

import "errors"

var (
	// ErrInvalidMessageSize indicates a serialized frame is not exactly
	// FrameSizes.Total bytes, or a field within it does not match its
	// declared width.
	ErrInvalidMessageSize = errors.New("handshake: invalid message size")
	// ErrInvalidState indicates a handshake operation was invoked from an
	// incompatible state, including a previously poisoned session.
	ErrInvalidState = errors.New("handshake: invalid state")
	// ErrInvalidTimestamp is reserved for the anti-replay extension point
	// described in the design notes; the core itself never returns it.
	ErrInvalidTimestamp = errors.New("handshake: invalid timestamp")
)
