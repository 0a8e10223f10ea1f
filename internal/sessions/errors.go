package sessions

import "errors"

var (
	// ErrDuplicateSession is returned when a session id is already registered.
	ErrDuplicateSession = errors.New("session id already exists")
	// ErrSessionNotFound is returned when no session exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when an operation targets a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrDuplicateRecommendation is returned on an exact recommendation id repeat.
	// Distinct submissions are never fused; only identical ids are rejected.
	ErrDuplicateRecommendation = errors.New("recommendation id already exists")
	// ErrNotParticipant is returned when a user is not on the session roster.
	ErrNotParticipant = errors.New("user is not a session participant")
	// ErrInvalidEventType is returned for unknown workspace event types.
	ErrInvalidEventType = errors.New("invalid workspace event type")
)
