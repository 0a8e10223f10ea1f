package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a diagnosis session.
type SessionStatus string

const (
	// SessionActive accepts participants, recommendations and workspace updates.
	SessionActive SessionStatus = "active"
	// SessionClosed is terminal; a session transitions to it exactly once.
	SessionClosed SessionStatus = "closed"
)

// ParticipantRole describes what a participant may do inside a session.
type ParticipantRole string

const (
	RoleCreator  ParticipantRole = "creator"
	RoleExpert   ParticipantRole = "expert"
	RoleObserver ParticipantRole = "observer"
)

// Participant is one user inside a session, keyed by UserID.
// Re-joining rebinds SocketID without creating a duplicate roster entry.
type Participant struct {
	UserID   string          `json:"user_id"`
	SocketID string          `json:"socket_id"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
}

// SessionSnapshot is a read-only deep copy of a session, safe to hand to
// transports and handlers after the registry lock is released.
type SessionSnapshot struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	CreatorID       string           `json:"creator_id"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          SessionStatus    `json:"status"`
	Participants    []Participant    `json:"participants"`
	Recommendations []Recommendation `json:"recommendations"`
	WorkspaceLog    []WorkspaceEvent `json:"workspace_log"`
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title"`
	CreatorID           string        `json:"creator_id"`
	CreatedAt           time.Time     `json:"created_at"`
	Status              SessionStatus `json:"status"`
	ParticipantCount    int           `json:"participant_count"`
	RecommendationCount int           `json:"recommendation_count"`
}

// SessionAnalytics holds in-memory engagement counters for one session.
type SessionAnalytics struct {
	SessionID           string         `json:"session_id"`
	Status              SessionStatus  `json:"status"`
	ParticipantCount    int            `json:"participant_count"`
	PeakParticipants    int            `json:"peak_participants"`
	RecommendationCount int            `json:"recommendation_count"`
	WorkspaceEventCount int            `json:"workspace_event_count"`
	EventsByType        map[string]int `json:"events_by_type"`
	CreatedAt           time.Time      `json:"created_at"`
}
