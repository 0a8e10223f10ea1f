package models

import (
	"time"
)

// Recommendation is one expert's diagnostic opinion, immutable once recorded.
// Conflicting opinions from the same or different experts are appended side by
// side; the registry never merges or overwrites entries.
type Recommendation struct {
	ID          string            `json:"id"`
	ExpertID    string            `json:"expert_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Confidence  float64           `json:"confidence"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Copy returns a defensive copy, detaching the metadata map from the caller.
func (r Recommendation) Copy() Recommendation {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
