package signaling

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cropconsult/backend/internal/models"
	"github.com/cropconsult/backend/internal/sessions"
)

type sentEvent struct {
	SessionID string
	UserID    string
	Event     string
	Data      interface{}
}

// fakeSender records everything the coordinator pushes out.
type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeSender) SendToUser(sessionID, userID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{SessionID: sessionID, UserID: userID, Event: event, Data: data})
}

func (f *fakeSender) sent() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.events...)
}

func (f *fakeSender) byEvent(event string) []sentEvent {
	var out []sentEvent
	for _, e := range f.sent() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestSetup(t *testing.T, timeoutSec int, turnURL string) (*sessions.Registry, *fakeSender, *Coordinator) {
	t.Helper()
	registry := sessions.NewRegistry(zap.NewNop())
	_, err := registry.Create("session_1", "consult", "farmer-1")
	require.NoError(t, err)
	for _, u := range []string{"expert-1", "expert-2"} {
		_, err := registry.AddParticipant("session_1", models.Participant{UserID: u, SocketID: "sock-" + u})
		require.NoError(t, err)
	}
	sender := &fakeSender{}
	coordinator := NewCoordinator(registry, sender, timeoutSec, []string{"stun:stun.example.org:3478"}, turnURL, zap.NewNop())
	return registry, sender, coordinator
}

func offer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
}

func answer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
}

func TestCoordinator_RelayOffer_ForwardsAndAdvancesState(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 30, "")

	// When a participant sends an offer to a peer
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))

	// Then the target receives the opaque payload and the pair advances
	events := sender.byEvent("webrtc-offer")
	req.Len(events, 1)
	req.Equal("expert-2", events[0].UserID)
	req.Equal(StateOfferSent, coordinator.PairState("session_1", "expert-1", "expert-2"))
}

func TestCoordinator_FullNegotiation_ReachesConnected(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 30, "")

	// When offer, answer and the connected report flow in order
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))
	req.NoError(coordinator.RelayAnswer("session_1", "expert-2", "expert-1", answer()))
	req.Equal(StateAnswerReceived, coordinator.PairState("session_1", "expert-1", "expert-2"))
	req.NoError(coordinator.PeerConnected("session_1", "expert-1", "expert-2"))

	// Then the pair is connected and the other peer was notified
	req.Equal(StateConnected, coordinator.PairState("session_1", "expert-1", "expert-2"))
	req.Len(sender.byEvent("peer-connected"), 1)
	req.Empty(sender.byEvent("fallback-options"))
}

func TestCoordinator_Relay_RejectsNonParticipants(t *testing.T) {
	req := require.New(t)
	registry, _, coordinator := newTestSetup(t, 30, "")

	// An outsider target, a missing session, a self relay and a closed session
	req.ErrorIs(coordinator.RelayOffer("session_1", "expert-1", "stranger", offer()), ErrPeerUnavailable)
	req.ErrorIs(coordinator.RelayOffer("session_ghost", "expert-1", "expert-2", offer()), ErrPeerUnavailable)
	req.ErrorIs(coordinator.RelayOffer("session_1", "expert-1", "expert-1", offer()), ErrPeerUnavailable)

	req.NoError(registry.Close("session_1"))
	req.ErrorIs(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()), ErrPeerUnavailable)
}

func TestCoordinator_ICECandidates_PassThroughUntouched(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 30, "")

	// Host, reflexive and relay candidates are all forwarded alike
	for _, cand := range []string{
		"candidate:1 1 udp 2130706431 192.168.1.10 54321 typ host",
		"candidate:2 1 udp 1694498815 203.0.113.5 54321 typ srflx",
		"candidate:3 1 udp 41885695 198.51.100.9 3478 typ relay",
	} {
		req.NoError(coordinator.RelayICECandidate("session_1", "expert-1", "expert-2", webrtc.ICECandidateInit{Candidate: cand}))
	}
	req.Len(sender.byEvent("webrtc-ice"), 3)
}

func TestCoordinator_Timeout_DegradesAndOffersFallback(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 1, "")

	// Given an offer that never completes
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))

	// When the negotiation window elapses
	req.Eventually(func() bool {
		return coordinator.PairState("session_1", "expert-1", "expert-2") == StateDegraded
	}, 3*time.Second, 20*time.Millisecond)

	// Then both peers receive the always-available fallback options
	fallbacks := sender.byEvent("fallback-options")
	req.Len(fallbacks, 2)
	payload := fallbacks[0].Data.(map[string]interface{})
	req.Equal("timeout", payload["reason"])
	req.Equal([]string{FallbackAudioOnly, FallbackTextOnly}, payload["options"])
}

func TestCoordinator_ConnectedPairIgnoresLateTimeout(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 1, "")

	// Given a pair that connects before the window elapses
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))
	req.NoError(coordinator.PeerConnected("session_1", "expert-2", "expert-1"))

	// When the original timer would have fired
	time.Sleep(1500 * time.Millisecond)

	// Then the pair stays connected and no fallback was pushed
	req.Equal(StateConnected, coordinator.PairState("session_1", "expert-1", "expert-2"))
	req.Empty(sender.byEvent("fallback-options"))
}

func TestCoordinator_NegotiationFailed_PushesFallbackToBothPeers(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 30, "turn:turn.example.org:3478")

	// When a client reports an explicit failure
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))
	req.NoError(coordinator.NegotiationFailed("session_1", "expert-1", "expert-2", "ice failed"))

	// Then the pair degrades and the TURN-backed retry is offered
	req.Equal(StateDegraded, coordinator.PairState("session_1", "expert-1", "expert-2"))
	fallbacks := sender.byEvent("fallback-options")
	req.Len(fallbacks, 2)
	payload := fallbacks[0].Data.(map[string]interface{})
	req.Equal([]string{FallbackAudioOnly, FallbackTextOnly, FallbackRelayRetry}, payload["options"])
}

func TestCoordinator_FallbackOptions_RelayRetryNeedsTURN(t *testing.T) {
	req := require.New(t)
	_, _, plain := newTestSetup(t, 30, "")
	_, _, relayed := newTestSetup(t, 30, "turn:turn.example.org:3478")

	req.Equal([]string{FallbackAudioOnly, FallbackTextOnly}, plain.FallbackOptions())
	req.Equal([]string{FallbackAudioOnly, FallbackTextOnly, FallbackRelayRetry}, relayed.FallbackOptions())
}

func TestCoordinator_PoorQualityReport_DegradesLiveNegotiations(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 30, "")
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))

	// When the offerer reports a poor network
	settings := coordinator.ReportQuality("session_1", "expert-1", models.NetworkQuality{
		Bandwidth: 200_000, Latency: 300, PacketLoss: 0.08,
	})

	// Then the classification comes back and the pair degrades with fallbacks
	req.Equal(models.QualityPoor, settings.Quality)
	req.Equal(StateDegraded, coordinator.PairState("session_1", "expert-1", "expert-2"))
	req.Len(sender.byEvent("fallback-options"), 2)
}

func TestCoordinator_GoodQualityReport_LeavesNegotiationsAlone(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 30, "")
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))

	settings := coordinator.ReportQuality("session_1", "expert-1", models.NetworkQuality{
		Bandwidth: 5_000_000, Latency: 50, PacketLoss: 0.01,
	})

	req.Equal(models.QualityGood, settings.Quality)
	req.Equal(StateOfferSent, coordinator.PairState("session_1", "expert-1", "expert-2"))
	req.Empty(sender.byEvent("fallback-options"))
}

func TestCoordinator_ReleaseSession_DropsPairsAndTimers(t *testing.T) {
	req := require.New(t)
	_, sender, coordinator := newTestSetup(t, 1, "")
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))

	// When the session closes
	coordinator.ReleaseSession("session_1")

	// Then the pair resets to idle and the cancelled timer never fires
	req.Equal(StateIdle, coordinator.PairState("session_1", "expert-1", "expert-2"))
	time.Sleep(1500 * time.Millisecond)
	req.Empty(sender.byEvent("fallback-options"))
}

func TestCoordinator_ReleaseUser_DropsOnlyTheirPairs(t *testing.T) {
	req := require.New(t)
	registry, _, coordinator := newTestSetup(t, 30, "")
	_, err := registry.AddParticipant("session_1", models.Participant{UserID: "expert-3", SocketID: "sock-3"})
	req.NoError(err)
	req.NoError(coordinator.RelayOffer("session_1", "expert-1", "expert-2", offer()))
	req.NoError(coordinator.RelayOffer("session_1", "expert-2", "expert-3", offer()))

	// When one participant leaves
	coordinator.ReleaseUser("session_1", "expert-1")

	// Then only pairs involving them are dropped
	req.Equal(StateIdle, coordinator.PairState("session_1", "expert-1", "expert-2"))
	req.Equal(StateOfferSent, coordinator.PairState("session_1", "expert-2", "expert-3"))
}
