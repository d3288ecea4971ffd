package peer

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/protocol"
	"github.com/ent0n29/codestudio/internal/reliability"
)

type MeshConfig struct {
	LocalID      string
	Signaler     Signaler
	NewTransport TransportFactory
	Retry        reliability.RetryPolicy
	Media        *LocalMedia
	Log          zerolog.Logger

	OnStateChange func(remoteID string, state State, phase Phase)
	OnError       func(remoteID string, err error)
}

// Mesh keeps one Session per remote peer of a collaborative session and
// routes relay events to them. Existing members offer to newcomers.
type Mesh struct {
	cfg MeshConfig

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewMesh(cfg MeshConfig) *Mesh {
	return &Mesh{cfg: cfg, sessions: make(map[string]*Session)}
}

// Run consumes relay events until the channel closes or ctx is done, then
// closes every session.
func (m *Mesh) Run(ctx context.Context, events <-chan any) {
	defer m.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.HandleEvent(ev)
		}
	}
}

func (m *Mesh) HandleEvent(ev any) {
	switch e := ev.(type) {
	case protocol.UserJoined:
		if e.UserID == m.cfg.LocalID {
			return
		}
		// A rejoin replaces whatever state we had for that peer.
		m.closePeer(e.UserID)
		if s := m.session(e.UserID, true); s != nil {
			s.Offer()
		}

	case protocol.UserLeft:
		m.closePeer(e.UserID)

	case protocol.WebRTCSignal:
		if e.From == "" || e.From == m.cfg.LocalID {
			return
		}
		sig, err := protocol.DecodeSignal(e.Signal)
		if err != nil {
			m.cfg.Log.Warn().Err(err).Str("from", e.From).Msg("dropping malformed signal")
			return
		}
		s := m.session(e.From, sig.Type == protocol.SignalOffer)
		if s == nil {
			m.cfg.Log.Debug().Str("from", e.From).Str("signal", string(sig.Type)).Msg("signal for unknown peer")
			return
		}
		s.HandleSignal(sig)

	case protocol.ErrorEvent:
		m.cfg.Log.Info().Str("code", e.Code).Str("detail", e.Detail).Msg("relay error")
	}
}

// Peers reports the state of every known remote peer.
func (m *Mesh) Peers() map[string]State {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make(map[string]State, len(sessions))
	for _, s := range sessions {
		state, _ := s.State()
		out[s.RemoteID()] = state
	}
	return out
}

func (m *Mesh) PeerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close hangs up on every peer and releases local media.
func (m *Mesh) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.cfg.Media.Release()
}

func (m *Mesh) session(remoteID string, create bool) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if s, ok := m.sessions[remoteID]; ok {
		if state, _ := s.State(); !state.Terminal() {
			return s
		}
		if !create {
			return nil
		}
		go s.Close()
	}
	if !create {
		return nil
	}

	s := NewSession(Config{
		LocalID:      m.cfg.LocalID,
		RemoteID:     remoteID,
		Signaler:     m.cfg.Signaler,
		NewTransport: m.cfg.NewTransport,
		Retry:        m.cfg.Retry,
		Log:          m.cfg.Log,
		OnStateChange: func(state State, phase Phase) {
			if m.cfg.OnStateChange != nil {
				m.cfg.OnStateChange(remoteID, state, phase)
			}
		},
		OnError: func(err error) {
			if m.cfg.OnError != nil {
				m.cfg.OnError(remoteID, err)
			}
		},
	})
	m.sessions[remoteID] = s
	return s
}

func (m *Mesh) closePeer(remoteID string) {
	m.mu.Lock()
	s, ok := m.sessions[remoteID]
	delete(m.sessions, remoteID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}
