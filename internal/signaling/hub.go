package signaling

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/observability"
	"github.com/ent0n29/codestudio/internal/protocol"
)

const (
	CodePeerUnavailable    = "peer_unavailable"
	CodeInvalidTarget      = "invalid_target"
	CodeInvalidClientFrame = "invalid_client_message"
)

// ErrConnectionTaken is returned when an unverified connection tries to
// replace a verified one for the same user.
var ErrConnectionTaken = errors.New("signaling connection held by a verified peer")

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
}

// Peer is one registered connection, addressed by (SessionID, UserID).
// Verified is set when the connection presented a token for UserID.
type Peer struct {
	SessionID string
	UserID    string
	Verified  bool
	send      chan []byte
}

// Outbound yields frames queued for this peer. It is closed when the hub
// drops the peer, either on unregister or when a newer connection for the
// same user replaces it.
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}

// Hub routes signaling frames between peers of the same session. Delivery is
// at most once: nothing is buffered for offline peers and a full send queue
// drops the frame.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Peer

	opts    Options
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewHub(log zerolog.Logger, metrics *observability.Metrics, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 << 10
	}
	return &Hub{
		sessions: make(map[string]map[string]*Peer),
		opts:     opts,
		log:      log,
		metrics:  metrics,
	}
}

// Register adds a peer and announces it to the rest of the session. An
// existing connection for the same user is closed and replaced, unless it is
// verified and the newcomer is not.
func (h *Hub) Register(sessionID, userID string, verified bool) (*Peer, error) {
	p := &Peer{
		SessionID: sessionID,
		UserID:    userID,
		Verified:  verified,
		send:      make(chan []byte, h.opts.SendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.sessions[sessionID]
	if old, ok := members[userID]; ok && old.Verified && !verified {
		h.log.Warn().Str("session_id", sessionID).Str("user_id", userID).Msg("unverified connection rejected")
		return nil, ErrConnectionTaken
	}
	if members == nil {
		members = make(map[string]*Peer)
		h.sessions[sessionID] = members
	}
	if old, ok := members[userID]; ok {
		close(old.send)
		h.metrics.AddSignalConnections(-1)
		h.log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("signaling connection replaced")
	}
	members[userID] = p
	h.metrics.AddSignalConnections(1)
	h.log.Debug().Str("session_id", sessionID).Str("user_id", userID).Msg("peer connected")

	h.broadcastLocked(sessionID, userID, protocol.UserJoined{
		Type:      protocol.TypeUserJoined,
		SessionID: sessionID,
		UserID:    userID,
	})
	return p, nil
}

// CanRegister reports whether Register would accept a connection for userID
// with the given verification.
func (h *Hub) CanRegister(sessionID, userID string, verified bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	old, ok := h.sessions[sessionID][userID]
	return !ok || !old.Verified || verified
}

// Unregister removes p if it is still the current connection for its user
// and announces the departure.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.sessions[p.SessionID]
	if current, ok := members[p.UserID]; !ok || current != p {
		return
	}
	delete(members, p.UserID)
	close(p.send)
	h.metrics.AddSignalConnections(-1)
	if len(members) == 0 {
		delete(h.sessions, p.SessionID)
	}
	h.log.Debug().Str("session_id", p.SessionID).Str("user_id", p.UserID).Msg("peer disconnected")

	h.broadcastLocked(p.SessionID, p.UserID, protocol.UserLeft{
		Type:      protocol.TypeUserLeft,
		SessionID: p.SessionID,
		UserID:    p.UserID,
	})
}

// Relay forwards msg from sender to msg.To within the sender's session.
// From and SessionID are overwritten with the sender's registration. When the
// target is not connected the sender gets a peer_unavailable error event.
// It reports whether the frame was queued for the target.
func (h *Hub) Relay(from *Peer, msg protocol.WebRTCSignal) bool {
	msg.Type = protocol.TypeWebRTCSignal
	msg.From = from.UserID
	msg.SessionID = from.SessionID

	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.sessions[from.SessionID]
	if members[from.UserID] != from {
		h.metrics.ObserveSignalDrop("stale_sender")
		return false
	}
	if msg.To == from.UserID {
		h.metrics.ObserveSignalDrop(CodeInvalidTarget)
		h.sendErrorLocked(from, CodeInvalidTarget, "cannot signal yourself")
		return false
	}
	target, ok := members[msg.To]
	if !ok {
		h.metrics.ObserveSignalDrop(CodePeerUnavailable)
		h.sendErrorLocked(from, CodePeerUnavailable, "peer "+msg.To+" is not connected")
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal webrtc-signal")
		return false
	}
	if !h.enqueueLocked(target, data) {
		return false
	}
	h.metrics.ObserveSignal("outbound", string(protocol.TypeWebRTCSignal))
	return true
}

// SendError queues an error event for p.
func (h *Hub) SendError(p *Peer, code, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[p.SessionID][p.UserID] != p {
		return
	}
	h.sendErrorLocked(p, code, detail)
}

// Members lists the user ids currently connected to a session.
func (h *Hub) Members(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sessions[sessionID]))
	for id := range h.sessions[sessionID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close drops every connection without membership broadcasts.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, members := range h.sessions {
		for _, p := range members {
			close(p.send)
			h.metrics.AddSignalConnections(-1)
		}
		delete(h.sessions, sessionID)
	}
}

func (h *Hub) broadcastLocked(sessionID, exceptUserID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal membership event")
		return
	}
	msgType, _ := protocol.TypeOf(msg)
	for id, p := range h.sessions[sessionID] {
		if id == exceptUserID {
			continue
		}
		if h.enqueueLocked(p, data) {
			h.metrics.ObserveSignal("outbound", string(msgType))
		}
	}
}

func (h *Hub) sendErrorLocked(p *Peer, code, detail string) {
	data, err := json.Marshal(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: p.SessionID,
		Code:      code,
		Detail:    detail,
	})
	if err != nil {
		return
	}
	if h.enqueueLocked(p, data) {
		h.metrics.ObserveSignal("outbound", string(protocol.TypeErrorEvent))
	}
}

func (h *Hub) enqueueLocked(p *Peer, data []byte) bool {
	select {
	case p.send <- data:
		return true
	default:
		h.metrics.ObserveSignalDrop("buffer_full")
		h.log.Warn().Str("session_id", p.SessionID).Str("user_id", p.UserID).Msg("signaling send buffer full; frame dropped")
		return false
	}
}
