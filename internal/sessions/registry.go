package sessions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cropconsult/backend/internal/models"
)

// CloseHook runs after a session transitions to Closed, outside all session
// locks. Transports use it to release sockets, the signaling coordinator to
// cancel negotiation timers.
type CloseHook func(sessionID string)

// Registry owns the lifecycle of all diagnosis sessions: roster, append-only
// recommendation log and workspace log. Sessions live in memory for the
// process lifetime; there is no persistence behind it.
//
// The session map is sharded so operations on different sessions never
// contend; state inside one session is serialized by that session's mutex.
type Registry struct {
	store  *store
	logger *zap.Logger

	hookMu     sync.RWMutex
	closeHooks []CloseHook
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: newStore(), logger: logger}
}

// OnClose registers a hook invoked whenever a session closes, whether via
// Close or the idle sweep.
func (r *Registry) OnClose(fn CloseHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.closeHooks = append(r.closeHooks, fn)
}

func (r *Registry) fireCloseHooks(sessionID string) {
	r.hookMu.RLock()
	hooks := append([]CloseHook(nil), r.closeHooks...)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
}

// NewSessionID returns a collision-resistant identifier combining a monotonic
// millisecond component with a random suffix. Uniqueness is still enforced by
// Create; the id shape only makes collisions negligible under races.
func NewSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

// NewRecommendationID returns an id for callers that do not supply their own.
func NewRecommendationID() string {
	return fmt.Sprintf("rec_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create registers a new Active session under id. The insert is atomic on the
// id's shard, so of any number of concurrent creators exactly one succeeds and
// the rest get ErrDuplicateSession.
func (r *Registry) Create(id, title, creatorID string) (models.SessionSummary, error) {
	s := newSession(id, title, creatorID, time.Now())
	if !r.store.putIfAbsent(id, s) {
		return models.SessionSummary{}, ErrDuplicateSession
	}
	r.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("creator_id", creatorID),
	)
	return s.summary(), nil
}

// AddParticipant upserts a participant keyed by UserID. Re-adding the same
// user rebinds the socket without duplicating the roster entry.
func (r *Registry) AddParticipant(sessionID string, p models.Participant) (models.Participant, error) {
	s, ok := r.store.get(sessionID)
	if !ok {
		return models.Participant{}, ErrSessionNotFound
	}
	stored, err := s.upsertParticipant(p, time.Now())
	if err != nil {
		return models.Participant{}, err
	}
	r.logger.Debug("participant joined",
		zap.String("session_id", sessionID),
		zap.String("user_id", stored.UserID),
		zap.String("role", string(stored.Role)),
	)
	return stored, nil
}

// RemoveParticipant drops the roster entry; a missing user or session is a
// no-op so disconnect paths can call it unconditionally.
func (r *Registry) RemoveParticipant(sessionID, userID string) {
	s, ok := r.store.get(sessionID)
	if !ok {
		return
	}
	s.removeParticipant(userID, time.Now())
	r.logger.Debug("participant left",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
}

// AddRecommendation appends an expert opinion to the session log and returns
// the stored copy. Submissions are never merged: only an exact id repeat is
// rejected.
func (r *Registry) AddRecommendation(sessionID string, rec models.Recommendation) (models.Recommendation, error) {
	s, ok := r.store.get(sessionID)
	if !ok {
		return models.Recommendation{}, ErrSessionNotFound
	}
	stored, err := s.addRecommendation(rec, time.Now())
	if err != nil {
		return models.Recommendation{}, err
	}
	r.logger.Debug("recommendation recorded",
		zap.String("session_id", sessionID),
		zap.String("recommendation_id", stored.ID),
		zap.String("expert_id", stored.ExpertID),
		zap.Float64("confidence", stored.Confidence),
	)
	return stored, nil
}

// AppendWorkspaceEvent stamps the event with the server clock and appends it
// to the session's workspace log.
func (r *Registry) AppendWorkspaceEvent(sessionID, userID string, evType models.WorkspaceEventType, data []byte) (models.WorkspaceEvent, error) {
	if !evType.Valid() {
		return models.WorkspaceEvent{}, ErrInvalidEventType
	}
	s, ok := r.store.get(sessionID)
	if !ok {
		return models.WorkspaceEvent{}, ErrSessionNotFound
	}
	ev := models.WorkspaceEvent{
		Type:      evType,
		UserID:    userID,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
	}
	return s.appendEvent(ev)
}

// Get returns a deep-copied snapshot of the session.
func (r *Registry) Get(sessionID string) (models.SessionSnapshot, error) {
	s, ok := r.store.get(sessionID)
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// List returns a summary of every session currently held, open or closed.
func (r *Registry) List() []models.SessionSummary {
	out := make([]models.SessionSummary, 0, r.store.len())
	r.store.forEach(func(s *session) {
		out = append(out, s.summary())
	})
	return out
}

// Analytics returns the in-memory engagement counters for one session.
func (r *Registry) Analytics(sessionID string) (models.SessionAnalytics, error) {
	s, ok := r.store.get(sessionID)
	if !ok {
		return models.SessionAnalytics{}, ErrSessionNotFound
	}
	return s.analytics(), nil
}

// Membership reports nil only when the session is active and every given user
// is currently on its roster.
func (r *Registry) Membership(sessionID string, userIDs ...string) error {
	s, ok := r.store.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.membership(userIDs...)
}

// ParticipantSocket resolves the current socket binding for a session member.
func (r *Registry) ParticipantSocket(sessionID, userID string) (string, bool) {
	s, ok := r.store.get(sessionID)
	if !ok {
		return "", false
	}
	return s.participantSocket(userID)
}

// Close marks the session Closed, detaches all participants and fires the
// close hooks. Closing an already-closed session is a successful no-op;
// only an unknown id is an error.
func (r *Registry) Close(sessionID string) error {
	s, ok := r.store.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.close(time.Now()) {
		return nil
	}
	r.logger.Info("session closed", zap.String("session_id", sessionID))
	r.fireCloseHooks(sessionID)
	return nil
}

// sweepIdle closes active sessions whose roster has been empty longer than
// idleAfter and evicts sessions that have been closed at least as long. It
// takes the same per-session locks as mutations, so an in-flight join always
// either lands before the close or observes ErrSessionClosed — never a
// half-open session.
func (r *Registry) sweepIdle(now time.Time, idleAfter time.Duration) (closed, evicted []string) {
	r.store.forEach(func(s *session) {
		closeIt, evictIt := s.idleState(now, idleAfter)
		switch {
		case closeIt:
			if s.close(now) {
				closed = append(closed, s.id)
				r.fireCloseHooks(s.id)
			}
		case evictIt:
			r.store.delete(s.id)
			evicted = append(evicted, s.id)
		}
	})
	return closed, evicted
}
