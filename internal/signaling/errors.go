package signaling

import "errors"

var (
	// ErrPeerUnavailable is returned when a relay target is not a current
	// participant of the sender's active session.
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrNegotiationTimeout marks a negotiation that did not reach Connected
	// within the configured window. It degrades the pair, never the process.
	ErrNegotiationTimeout = errors.New("negotiation timeout")
)
