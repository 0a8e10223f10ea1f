package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cropconsult/backend/internal/models"
)

func TestSweep_ClosesSessionsEmptyPastThreshold(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	_, err := registry.Create("session_idle", "abandoned", "farmer-1")
	req.NoError(err)

	// Given the session has been empty since creation
	var hookCalls []string
	registry.OnClose(func(id string) { hookCalls = append(hookCalls, id) })

	// When the sweep runs past the idle threshold
	closed, evicted := registry.sweepIdle(time.Now().Add(31*time.Minute), 30*time.Minute)

	// Then the session is closed and hooks fired, nothing evicted yet
	req.Equal([]string{"session_idle"}, closed)
	req.Empty(evicted)
	req.Equal([]string{"session_idle"}, hookCalls)
	snap, err := registry.Get("session_idle")
	req.NoError(err)
	req.Equal(models.SessionClosed, snap.Status)
}

func TestSweep_SparesSessionsWithParticipants(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	_, err := registry.Create("session_live", "active consult", "farmer-1")
	req.NoError(err)
	_, err = registry.AddParticipant("session_live", models.Participant{UserID: "expert-1", SocketID: "s1"})
	req.NoError(err)

	// When the sweep runs far past the threshold
	closed, _ := registry.sweepIdle(time.Now().Add(24*time.Hour), 30*time.Minute)

	// Then an occupied session is never swept
	req.Empty(closed)
	snap, err := registry.Get("session_live")
	req.NoError(err)
	req.Equal(models.SessionActive, snap.Status)
}

func TestSweep_SparesSessionsEmptyShorterThanThreshold(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	_, err := registry.Create("session_fresh", "just created", "farmer-1")
	req.NoError(err)

	// When the sweep runs before the threshold elapses
	closed, _ := registry.sweepIdle(time.Now().Add(10*time.Minute), 30*time.Minute)

	req.Empty(closed)
}

func TestSweep_JoinResetsTheIdleClock(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	_, err := registry.Create("session_1", "consult", "farmer-1")
	req.NoError(err)

	// Given a participant joins and leaves again
	_, err = registry.AddParticipant("session_1", models.Participant{UserID: "expert-1", SocketID: "s1"})
	req.NoError(err)
	registry.RemoveParticipant("session_1", "expert-1")

	// When the sweep runs just short of the threshold measured from the leave
	closed, _ := registry.sweepIdle(time.Now().Add(29*time.Minute), 30*time.Minute)
	req.Empty(closed)

	// Then only a sweep past the threshold closes it
	closed, _ = registry.sweepIdle(time.Now().Add(31*time.Minute), 30*time.Minute)
	req.Equal([]string{"session_1"}, closed)
}

func TestSweep_EvictsLongClosedSessions(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	_, err := registry.Create("session_1", "consult", "farmer-1")
	req.NoError(err)
	req.NoError(registry.Close("session_1"))

	// When the sweep runs past the threshold again
	closed, evicted := registry.sweepIdle(time.Now().Add(31*time.Minute), 30*time.Minute)

	// Then the closed session is dropped from the map entirely
	req.Empty(closed)
	req.Equal([]string{"session_1"}, evicted)
	_, err = registry.Get("session_1")
	req.ErrorIs(err, ErrSessionNotFound)
}

func TestSweep_DoesNotRaceDestructivelyWithJoins(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	_, err := registry.Create("session_1", "consult", "farmer-1")
	req.NoError(err)

	// When a join races the sweep on the same session
	done := make(chan error, 1)
	go func() {
		_, err := registry.AddParticipant("session_1", models.Participant{UserID: "expert-1", SocketID: "s1"})
		done <- err
	}()
	registry.sweepIdle(time.Now().Add(31*time.Minute), 30*time.Minute)
	joinErr := <-done

	// Then the join either landed before the close or saw the closed state;
	// there is no half-open outcome
	snap, err := registry.Get("session_1")
	req.NoError(err)
	if joinErr == nil {
		req.True(snap.Status == models.SessionActive && len(snap.Participants) == 1 ||
			snap.Status == models.SessionClosed && len(snap.Participants) == 0)
	} else {
		req.ErrorIs(joinErr, ErrSessionClosed)
		req.Equal(models.SessionClosed, snap.Status)
	}
}

func TestSweeper_StartStopAreIdempotentAndRestartable(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	sweeper := NewSweeper(registry, 1, 1, zap.NewNop())

	// When the loop starts twice and stops twice
	sweeper.Start()
	sweeper.Start()
	sweeper.Stop()
	sweeper.Stop()

	// And is then relaunched and torn down again
	sweeper.Start()
	sweeper.Stop()

	// Then nothing panics or deadlocks; each Stop waited out its own run
	req.NotNil(sweeper)
}

func TestSweeper_StopWaitsForTheRelaunchedLoop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zap.NewNop())
	sweeper := NewSweeper(registry, 1, 1, zap.NewNop())

	// Given a stopped first run and a live second run
	sweeper.Start()
	sweeper.Stop()
	sweeper.Start()

	// When the second run is stopped
	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()

	// Then Stop returns only once that loop has exited
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not wait for the relaunched loop")
	}
	req.NotNil(sweeper)
}
