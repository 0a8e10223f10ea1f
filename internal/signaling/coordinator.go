package signaling

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/cropconsult/backend/internal/models"
	"github.com/cropconsult/backend/internal/sessions"
)

// NegotiationState tracks how far a peer pair has progressed toward a live
// media connection.
type NegotiationState string

const (
	StateIdle           NegotiationState = "idle"
	StateOfferSent      NegotiationState = "offer_sent"
	StateAnswerReceived NegotiationState = "answer_received"
	StateConnected      NegotiationState = "connected"
	// StateDegraded is the side-state entered on poor network conditions,
	// negotiation timeout or an explicit failure report. A degraded pair is
	// offered fallback options instead of being torn down.
	StateDegraded NegotiationState = "degraded"
)

// Fallback option identifiers sent with fallback-options events.
const (
	FallbackAudioOnly  = "audio-only"
	FallbackTextOnly   = "text-only"
	FallbackRelayRetry = "relay-retry"
)

// Sender is the slice of the realtime hub the coordinator needs: pushing
// signaling events to a single participant.
type Sender interface {
	SendToUser(sessionID, userID, event string, data interface{})
}

type pairKey struct {
	sessionID string
	a, b      string
}

func keyFor(sessionID, x, y string) pairKey {
	if y < x {
		x, y = y, x
	}
	return pairKey{sessionID: sessionID, a: x, b: y}
}

func (k pairKey) peers() (string, string) { return k.a, k.b }

type pair struct {
	state   NegotiationState
	offerer string
	timer   *time.Timer
}

// Coordinator relays WebRTC negotiation between participants of the same
// active session and tracks a state machine per peer pair. It never touches
// media itself; payloads pass through opaque.
type Coordinator struct {
	registry *sessions.Registry
	sender   Sender
	logger   *zap.Logger
	timeout  time.Duration
	iceURLs  []string
	turnURL  string

	mu    sync.Mutex
	pairs map[pairKey]*pair
}

// NewCoordinator creates a signaling coordinator. timeoutSec bounds how long
// a pair may sit between offer and connected before it degrades; turnURL,
// when set, adds the relay-retry fallback.
func NewCoordinator(registry *sessions.Registry, sender Sender, timeoutSec int, iceURLs []string, turnURL string, logger *zap.Logger) *Coordinator {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		sender:   sender,
		logger:   logger,
		timeout:  time.Duration(timeoutSec) * time.Second,
		iceURLs:  iceURLs,
		turnURL:  turnURL,
		pairs:    make(map[pairKey]*pair),
	}
}

// ICEServers returns the STUN/TURN configuration clients should use when
// building their peer connections.
func (c *Coordinator) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(c.iceURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.iceURLs})
	}
	if c.turnURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{c.turnURL}})
	}
	return servers
}

// FallbackOptions lists the degradation paths available to a failed pair.
// Audio-only and text-only are always possible; relay-retry requires a
// configured TURN server.
func (c *Coordinator) FallbackOptions() []string {
	opts := []string{FallbackAudioOnly, FallbackTextOnly}
	if c.turnURL != "" {
		opts = append(opts, FallbackRelayRetry)
	}
	return opts
}

// RelayOffer validates both peers and forwards the offer to the target. The
// pair moves to OfferSent and the negotiation timer starts; a pair that does
// not reach Connected in time degrades.
func (c *Coordinator) RelayOffer(sessionID, from, to string, sdp webrtc.SessionDescription) error {
	if err := c.checkPeers(sessionID, from, to); err != nil {
		return err
	}
	key := keyFor(sessionID, from, to)
	c.mu.Lock()
	p := c.ensurePair(key)
	p.state = StateOfferSent
	p.offerer = from
	c.armTimer(key, p)
	c.mu.Unlock()

	c.sender.SendToUser(sessionID, to, "webrtc-offer", map[string]interface{}{
		"from": from,
		"type": sdp.Type.String(),
		"sdp":  sdp.SDP,
	})
	c.logger.Debug("offer relayed",
		zap.String("session_id", sessionID),
		zap.String("from", from),
		zap.String("to", to),
	)
	return nil
}

// RelayAnswer forwards the answer back to the offerer and advances the pair
// to AnswerReceived. The timer keeps running until a peer reports connected.
func (c *Coordinator) RelayAnswer(sessionID, from, to string, sdp webrtc.SessionDescription) error {
	if err := c.checkPeers(sessionID, from, to); err != nil {
		return err
	}
	key := keyFor(sessionID, from, to)
	c.mu.Lock()
	p := c.ensurePair(key)
	if p.state == StateOfferSent {
		p.state = StateAnswerReceived
	}
	c.mu.Unlock()

	c.sender.SendToUser(sessionID, to, "webrtc-answer", map[string]interface{}{
		"from": from,
		"type": sdp.Type.String(),
		"sdp":  sdp.SDP,
	})
	return nil
}

// RelayICECandidate forwards a candidate to the target. Host, reflexive and
// relay candidates all pass through untouched.
func (c *Coordinator) RelayICECandidate(sessionID, from, to string, cand webrtc.ICECandidateInit) error {
	if err := c.checkPeers(sessionID, from, to); err != nil {
		return err
	}
	c.sender.SendToUser(sessionID, to, "webrtc-ice", map[string]interface{}{
		"from":      from,
		"candidate": cand,
	})
	return nil
}

// PeerConnected records a successful negotiation, stops the pair's timer and
// notifies the other peer.
func (c *Coordinator) PeerConnected(sessionID, from, peer string) error {
	if err := c.checkPeers(sessionID, from, peer); err != nil {
		return err
	}
	key := keyFor(sessionID, from, peer)
	c.mu.Lock()
	p := c.ensurePair(key)
	p.state = StateConnected
	c.disarmTimer(p)
	c.mu.Unlock()

	c.sender.SendToUser(sessionID, peer, "peer-connected", map[string]interface{}{
		"peer": from,
	})
	c.logger.Info("peers connected",
		zap.String("session_id", sessionID),
		zap.String("peer_a", from),
		zap.String("peer_b", peer),
	)
	return nil
}

// NegotiationFailed degrades the pair and pushes fallback options to both
// peers. The reason is recorded in the log only.
func (c *Coordinator) NegotiationFailed(sessionID, from, peer, reason string) error {
	if err := c.checkPeers(sessionID, from, peer); err != nil {
		return err
	}
	key := keyFor(sessionID, from, peer)
	c.mu.Lock()
	p := c.ensurePair(key)
	p.state = StateDegraded
	c.disarmTimer(p)
	c.mu.Unlock()

	c.logger.Warn("negotiation failed",
		zap.String("session_id", sessionID),
		zap.String("from", from),
		zap.String("peer", peer),
		zap.String("reason", reason),
	)
	c.pushFallback(key, "negotiation-failed")
	return nil
}

// ReportQuality classifies a participant's network report and returns the
// media settings to apply. A Poor report degrades every negotiation the
// participant is part of in that session.
func (c *Coordinator) ReportQuality(sessionID, userID string, q models.NetworkQuality) models.MediaSettings {
	settings := Classify(q)
	if settings.Quality != models.QualityPoor {
		return settings
	}

	var degraded []pairKey
	c.mu.Lock()
	for key, p := range c.pairs {
		if key.sessionID != sessionID || (key.a != userID && key.b != userID) {
			continue
		}
		if p.state == StateDegraded {
			continue
		}
		p.state = StateDegraded
		c.disarmTimer(p)
		degraded = append(degraded, key)
	}
	c.mu.Unlock()

	for _, key := range degraded {
		c.pushFallback(key, "poor-network")
	}
	if len(degraded) > 0 {
		c.logger.Info("negotiations degraded on poor network report",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Int("pairs", len(degraded)),
		)
	}
	return settings
}

// PairState reports the tracked state for a peer pair, StateIdle when the
// pair has never negotiated.
func (c *Coordinator) PairState(sessionID, a, b string) NegotiationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pairs[keyFor(sessionID, a, b)]; ok {
		return p.state
	}
	return StateIdle
}

// ReleaseSession drops every pair of a closed session and cancels their
// timers. Wired as a registry close hook.
func (c *Coordinator) ReleaseSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.pairs {
		if key.sessionID != sessionID {
			continue
		}
		c.disarmTimer(p)
		delete(c.pairs, key)
	}
}

// ReleaseUser drops the pairs a departing participant belongs to.
func (c *Coordinator) ReleaseUser(sessionID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.pairs {
		if key.sessionID != sessionID || (key.a != userID && key.b != userID) {
			continue
		}
		c.disarmTimer(p)
		delete(c.pairs, key)
	}
}

func (c *Coordinator) checkPeers(sessionID, from, to string) error {
	if from == to || to == "" {
		return ErrPeerUnavailable
	}
	if err := c.registry.Membership(sessionID, from, to); err != nil {
		c.logger.Debug("relay rejected",
			zap.String("session_id", sessionID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
		return ErrPeerUnavailable
	}
	return nil
}

// ensurePair must be called with c.mu held.
func (c *Coordinator) ensurePair(key pairKey) *pair {
	p, ok := c.pairs[key]
	if !ok {
		p = &pair{state: StateIdle}
		c.pairs[key] = p
	}
	return p
}

// armTimer must be called with c.mu held.
func (c *Coordinator) armTimer(key pairKey, p *pair) {
	c.disarmTimer(p)
	p.timer = time.AfterFunc(c.timeout, func() { c.onTimeout(key) })
}

// disarmTimer must be called with c.mu held.
func (c *Coordinator) disarmTimer(p *pair) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (c *Coordinator) onTimeout(key pairKey) {
	c.mu.Lock()
	p, ok := c.pairs[key]
	if !ok || p.state == StateConnected || p.state == StateDegraded {
		c.mu.Unlock()
		return
	}
	p.state = StateDegraded
	p.timer = nil
	c.mu.Unlock()

	a, b := key.peers()
	c.logger.Warn("negotiation timed out",
		zap.String("session_id", key.sessionID),
		zap.String("peer_a", a),
		zap.String("peer_b", b),
		zap.Error(ErrNegotiationTimeout),
	)
	c.pushFallback(key, "timeout")
}

// pushFallback sends fallback options to both peers of a degraded pair.
func (c *Coordinator) pushFallback(key pairKey, reason string) {
	payload := map[string]interface{}{
		"reason":  reason,
		"options": c.FallbackOptions(),
	}
	a, b := key.peers()
	c.sender.SendToUser(key.sessionID, a, "fallback-options", payload)
	c.sender.SendToUser(key.sessionID, b, "fallback-options", payload)
}
