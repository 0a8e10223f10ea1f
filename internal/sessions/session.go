package sessions

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/cropconsult/backend/internal/models"
)

// session is the registry's internal representation of one diagnosis session.
// Every mutation of roster, recommendation log or workspace log happens under
// mu, so concurrent calls are linearized per session and never interleave.
type session struct {
	mu sync.Mutex

	id        string
	title     string
	creatorID string
	createdAt time.Time
	status    models.SessionStatus

	participants map[string]models.Participant
	peak         int

	recommendations []models.Recommendation
	recIDs          map[string]struct{}

	workspaceLog []models.WorkspaceEvent

	// emptySince marks when the roster last became (or started) empty; the
	// idle sweep uses it. Zero while at least one participant is present.
	emptySince time.Time
	closedAt   time.Time
}

func newSession(id, title, creatorID string, now time.Time) *session {
	return &session{
		id:           id,
		title:        title,
		creatorID:    creatorID,
		createdAt:    now,
		status:       models.SessionActive,
		participants: make(map[string]models.Participant),
		recIDs:       make(map[string]struct{}),
		emptySince:   now,
	}
}

// upsertParticipant adds or rebinds a participant keyed by UserID. A re-join
// rebinds SocketID (and Role when supplied) without duplicating the roster
// entry; the original JoinedAt is preserved.
func (s *session) upsertParticipant(p models.Participant, now time.Time) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.SessionClosed {
		return models.Participant{}, ErrSessionClosed
	}
	if p.UserID == s.creatorID {
		p.Role = models.RoleCreator
	}
	if existing, ok := s.participants[p.UserID]; ok {
		existing.SocketID = p.SocketID
		if p.Role != "" {
			existing.Role = p.Role
		}
		s.participants[p.UserID] = existing
		return existing, nil
	}
	if p.Role == "" {
		p.Role = models.RoleObserver
	}
	p.JoinedAt = now
	s.participants[p.UserID] = p
	if len(s.participants) > s.peak {
		s.peak = len(s.participants)
	}
	s.emptySince = time.Time{}
	return p, nil
}

// removeParticipant drops the roster entry; absent users are a no-op.
func (s *session) removeParticipant(userID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, userID)
	if len(s.participants) == 0 && s.status == models.SessionActive {
		s.emptySince = now
	}
}

// addRecommendation appends an expert opinion. Exact id repeats are rejected;
// everything else is appended verbatim. The stored value is detached from the
// caller's object and a second copy is returned.
func (s *session) addRecommendation(rec models.Recommendation, now time.Time) (models.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.SessionClosed {
		return models.Recommendation{}, ErrSessionClosed
	}
	if _, dup := s.recIDs[rec.ID]; dup {
		return models.Recommendation{}, ErrDuplicateRecommendation
	}
	stored := rec.Copy()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	s.recIDs[stored.ID] = struct{}{}
	s.recommendations = append(s.recommendations, stored)
	return stored.Copy(), nil
}

// appendEvent stamps and appends a workspace event.
func (s *session) appendEvent(ev models.WorkspaceEvent) (models.WorkspaceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.SessionClosed {
		return models.WorkspaceEvent{}, ErrSessionClosed
	}
	s.workspaceLog = append(s.workspaceLog, ev)
	return ev, nil
}

// close transitions Active->Closed once and detaches the roster. Reports
// whether this call performed the transition.
func (s *session) close(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.SessionClosed {
		return false
	}
	s.status = models.SessionClosed
	s.closedAt = now
	s.participants = make(map[string]models.Participant)
	return true
}

// membership reports nil only when the session is active and every id given
// is on the roster.
func (s *session) membership(userIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.SessionClosed {
		return ErrSessionClosed
	}
	for _, id := range userIDs {
		if _, ok := s.participants[id]; !ok {
			return ErrNotParticipant
		}
	}
	return nil
}

func (s *session) participantSocket(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return "", false
	}
	return p.SocketID, true
}

// snapshot deep-copies the session for read-only consumers. Slices and maps
// are detached so callers can never mutate registry state.
func (s *session) snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSnapshot{
		ID:           s.id,
		Title:        s.title,
		CreatorID:    s.creatorID,
		CreatedAt:    s.createdAt,
		Status:       s.status,
		Participants: lo.Values(s.participants),
		Recommendations: lo.Map(s.recommendations, func(r models.Recommendation, _ int) models.Recommendation {
			return r.Copy()
		}),
		WorkspaceLog: append([]models.WorkspaceEvent(nil), s.workspaceLog...),
	}
}

func (s *session) summary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSummary{
		ID:                  s.id,
		Title:               s.title,
		CreatorID:           s.creatorID,
		CreatedAt:           s.createdAt,
		Status:              s.status,
		ParticipantCount:    len(s.participants),
		RecommendationCount: len(s.recommendations),
	}
}

func (s *session) analytics() models.SessionAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := make(map[string]int)
	for _, ev := range s.workspaceLog {
		byType[string(ev.Type)]++
	}
	return models.SessionAnalytics{
		SessionID:           s.id,
		Status:              s.status,
		ParticipantCount:    len(s.participants),
		PeakParticipants:    s.peak,
		RecommendationCount: len(s.recommendations),
		WorkspaceEventCount: len(s.workspaceLog),
		EventsByType:        byType,
		CreatedAt:           s.createdAt,
	}
}

// idleState classifies the session for the sweep: active-and-empty past the
// threshold, or closed past the threshold (eligible for eviction).
func (s *session) idleState(now time.Time, idleAfter time.Duration) (closeIt, evictIt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.SessionClosed {
		return false, now.Sub(s.closedAt) > idleAfter
	}
	if len(s.participants) == 0 && !s.emptySince.IsZero() {
		return now.Sub(s.emptySince) > idleAfter, false
	}
	return false, false
}
