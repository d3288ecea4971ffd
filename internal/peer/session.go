package peer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/protocol"
	"github.com/ent0n29/codestudio/internal/reliability"
)

var ErrRetriesExhausted = errors.New("peer reconnection attempts exhausted")

// Transport is one media connection attempt to a remote peer. A Session
// discards its transport after every failure and builds a fresh one.
type Transport interface {
	CreateOffer() (string, error)
	CreateAnswer(offerSDP string) (string, error)
	AcceptAnswer(answerSDP string) error
	AddICECandidate(c protocol.ICECandidate) error
	OnICECandidate(fn func(protocol.ICECandidate))
	OnStateChange(fn func(ConnState))
	Close() error
}

type TransportFactory func(remoteID string) (Transport, error)

// Signaler delivers signals to a remote peer through the relay. Delivery is
// at most once; lost signals are recovered by renegotiation.
type Signaler interface {
	SendSignal(to string, sig protocol.Signal) error
}

type Config struct {
	LocalID      string
	RemoteID     string
	Signaler     Signaler
	NewTransport TransportFactory
	Retry        reliability.RetryPolicy
	// Media is released when the session closes. Leave nil when the
	// tracks are shared with other sessions.
	Media *LocalMedia
	Log   zerolog.Logger

	// Callbacks run on the session goroutine and must not call Close.
	OnStateChange func(State, Phase)
	OnError       func(error)
}

// Session drives the negotiation with one remote peer. All transitions run
// on a single goroutine; public methods only enqueue work.
type Session struct {
	cfg Config

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run loop.
	transport  Transport
	generation int
	failures   int
	lastErr    error
	retryTimer *time.Timer
	pending    []protocol.ICECandidate

	mu       sync.RWMutex
	state    State
	phase    Phase
	attempts int
}

func NewSession(cfg Config) *Session {
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.Backoff == nil {
		cfg.Retry = reliability.DefaultReconnectPolicy()
	}
	cfg.Log = cfg.Log.With().Str("remote_id", cfg.RemoteID).Logger()
	s := &Session{
		cfg:   cfg,
		inbox: make(chan func(), 128),
		done:  make(chan struct{}),
		state: StateIdle,
	}
	go s.run()
	return s
}

func (s *Session) RemoteID() string { return s.cfg.RemoteID }

func (s *Session) State() (State, Phase) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.phase
}

// Attempts is the number of reconnection attempts made so far.
func (s *Session) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Offer starts a negotiation as the offering side.
func (s *Session) Offer() {
	s.post(s.startOffer)
}

// HandleSignal feeds a signal received from the remote peer.
func (s *Session) HandleSignal(sig protocol.Signal) {
	s.post(func() { s.handleSignal(sig) })
}

// Close hangs up, releases local media and stops the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		finished := make(chan struct{})
		if s.post(func() {
			s.shutdown()
			close(finished)
		}) {
			<-finished
		}
		close(s.done)
	})
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) startOffer() {
	if s.isTerminal() {
		return
	}
	t, err := s.ensureTransport()
	if err != nil {
		s.handleFailure(err)
		return
	}
	sdp, err := t.CreateOffer()
	if err != nil {
		s.handleFailure(fmt.Errorf("create offer: %w", err))
		return
	}
	s.send(protocol.Signal{Type: protocol.SignalOffer, SDP: sdp})
	s.setState(StateNegotiating, PhaseOfferSent)
}

func (s *Session) handleSignal(sig protocol.Signal) {
	if s.isTerminal() {
		return
	}
	state, phase := s.State()

	switch sig.Type {
	case protocol.SignalOffer:
		if state == StateNegotiating && phase == PhaseOfferSent {
			// Both sides offered. The lower id keeps its offer.
			if s.cfg.LocalID < s.cfg.RemoteID {
				s.cfg.Log.Debug().Msg("ignoring colliding offer")
				return
			}
		}
		// Every accepted offer starts a fresh transport. The remote may have
		// restarted negotiation after its own failure or re-offered while our
		// answer was still pending.
		s.dropTransport()
		t, err := s.ensureTransport()
		if err != nil {
			s.handleFailure(err)
			return
		}
		answer, err := t.CreateAnswer(sig.SDP)
		if err != nil {
			s.handleFailure(fmt.Errorf("create answer: %w", err))
			return
		}
		s.send(protocol.Signal{Type: protocol.SignalAnswer, SDP: answer})
		s.setState(StateNegotiating, PhaseAnswerPending)

	case protocol.SignalAnswer:
		if state != StateNegotiating || phase != PhaseOfferSent || s.transport == nil {
			s.cfg.Log.Debug().Str("state", string(state)).Msg("ignoring unexpected answer")
			return
		}
		if err := s.transport.AcceptAnswer(sig.SDP); err != nil {
			s.handleFailure(fmt.Errorf("accept answer: %w", err))
		}

	case protocol.SignalICECandidate:
		if sig.Candidate == nil {
			return
		}
		if s.transport == nil {
			s.pending = append(s.pending, *sig.Candidate)
			return
		}
		if err := s.transport.AddICECandidate(*sig.Candidate); err != nil {
			s.cfg.Log.Warn().Err(err).Msg("add ice candidate")
		}
	}
}

func (s *Session) onTransportState(gen int, c ConnState) {
	if gen != s.generation || s.isTerminal() {
		return
	}
	switch c {
	case ConnConnected:
		s.failures = 0
		s.lastErr = nil
		s.setState(StateConnected, PhaseNone)
	case ConnFailed, ConnDisconnected:
		s.handleFailure(fmt.Errorf("transport %s", c))
	}
}

// handleFailure counts one consecutive failure and either schedules a
// reconnection or gives up once the retry policy is exhausted.
func (s *Session) handleFailure(err error) {
	if s.isTerminal() {
		return
	}
	s.dropTransport()
	s.failures++
	s.lastErr = err

	if !s.cfg.Retry.Allows(s.failures) {
		s.setState(StateFailed, PhaseNone)
		s.cfg.Log.Warn().Err(err).Int("failures", s.failures).Msg("peer connection failed")
		if s.cfg.OnError != nil {
			s.cfg.OnError(fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, s.Attempts(), err))
		}
		return
	}

	delay := s.cfg.Retry.Delay(s.failures)
	s.cfg.Log.Info().Err(err).Int("attempt", s.failures).Dur("backoff", delay).Msg("peer connection lost; reconnecting")
	s.setState(StateReconnecting, PhaseNone)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.post(s.reconnect)
	})
}

func (s *Session) reconnect() {
	if state, _ := s.State(); state != StateReconnecting {
		return
	}
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	s.startOffer()
}

func (s *Session) shutdown() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.dropTransport()
	s.pending = nil
	s.cfg.Media.Release()
	s.setState(StateClosed, PhaseNone)
}

func (s *Session) ensureTransport() (Transport, error) {
	if s.transport != nil {
		return s.transport, nil
	}
	t, err := s.cfg.NewTransport(s.cfg.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("new transport: %w", err)
	}
	s.generation++
	gen := s.generation
	t.OnStateChange(func(c ConnState) {
		s.post(func() { s.onTransportState(gen, c) })
	})
	t.OnICECandidate(func(c protocol.ICECandidate) {
		s.post(func() {
			if gen == s.generation && !s.isTerminal() {
				s.send(protocol.Signal{Type: protocol.SignalICECandidate, Candidate: &c})
			}
		})
	})
	s.transport = t

	for _, c := range s.pending {
		if err := t.AddICECandidate(c); err != nil {
			s.cfg.Log.Warn().Err(err).Msg("add queued ice candidate")
		}
	}
	s.pending = nil
	return t, nil
}

func (s *Session) dropTransport() {
	if s.transport == nil {
		return
	}
	if err := s.transport.Close(); err != nil {
		s.cfg.Log.Debug().Err(err).Msg("close transport")
	}
	s.transport = nil
	s.generation++
}

func (s *Session) send(sig protocol.Signal) {
	if err := s.cfg.Signaler.SendSignal(s.cfg.RemoteID, sig); err != nil {
		s.cfg.Log.Warn().Err(err).Str("signal", string(sig.Type)).Msg("send signal")
	}
}

func (s *Session) setState(state State, phase Phase) {
	s.mu.Lock()
	changed := s.state != state || s.phase != phase
	s.state = state
	s.phase = phase
	s.mu.Unlock()

	if changed && s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state, phase)
	}
}

func (s *Session) isTerminal() bool {
	state, _ := s.State()
	return state.Terminal()
}
