package models

import (
	"encoding/json"
	"time"
)

// WorkspaceEventType classifies a shared-workspace update.
type WorkspaceEventType string

const (
	EventAnnotation     WorkspaceEventType = "annotation"
	EventDiagnostic     WorkspaceEventType = "diagnostic"
	EventImage          WorkspaceEventType = "image"
	EventRecommendation WorkspaceEventType = "recommendation"
)

// Valid reports whether t is one of the known workspace event types.
func (t WorkspaceEventType) Valid() bool {
	switch t {
	case EventAnnotation, EventDiagnostic, EventImage, EventRecommendation:
		return true
	}
	return false
}

// WorkspaceEvent is a timestamped, attributed update broadcast to the other
// participants of a session. UserID and Timestamp are stamped by the server.
type WorkspaceEvent struct {
	Type      WorkspaceEventType `json:"type"`
	UserID    string             `json:"user_id"`
	Data      json.RawMessage    `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}
