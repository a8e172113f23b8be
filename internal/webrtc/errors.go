package webrtc

import "errors"

var (
	// ErrConnectionNotFound means an operation was attempted on a remote
	// peer id that was never opened. A programming-contract violation:
	// fatal to the call, never retried.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNegotiationFailed means the transport reached the failed state.
	// Terminal for that one connection.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrNegotiationTimeout means a connection sat in negotiating past the
	// configured deadline and was failed.
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)
