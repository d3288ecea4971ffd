package syncclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/reliability"
	"github.com/ent0n29/codestudio/internal/session"
)

var ErrSessionEnded = errors.New("session has ended")

// State is the local view of a session kept by a Poller.
type State struct {
	SessionID    string
	Status       session.Status
	Participants []session.Participant
	ChatLog      []session.ChatEntry
	Code         string
	CodeVersion  int64
	LastSync     time.Time
}

type Stats struct {
	Polls     int
	Skipped   int
	Discarded int
	Failures  int
	// Ticks skipped while backing off after retryable failures.
	BackedOff int
}

// maxPollBackoff caps the wait after consecutive retryable poll failures.
const maxPollBackoff = 30 * time.Second

// Poller keeps State approximately in sync with the server by re-fetching the
// session and its chat every interval. Participants and chat are replaced
// wholesale; the code buffer is replaced only when the server's version moved
// past the local one. A tick is skipped while the previous poll is still in
// flight, and responses from before Stop are discarded by generation.
// Retryable failures back off exponentially; a 401/403/404/410 or a
// completed session halts polling for good.
type Poller struct {
	client    *Client
	sessionID string
	userID    string
	interval  time.Duration
	log       zerolog.Logger

	mu         sync.Mutex
	state      State
	stats      Stats
	generation uint64
	inFlight   bool
	synced     bool
	running    bool
	failures   int
	retryAt    time.Time
	halted     error
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	onUpdate   func(State)
}

func NewPoller(client *Client, sessionID, userID string, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		client:    client,
		sessionID: sessionID,
		userID:    userID,
		interval:  interval,
		log:       log.With().Str("session_id", sessionID).Str("user_id", userID).Logger(),
		state:     State{SessionID: sessionID},
	}
}

// OnUpdate registers a callback invoked after every applied poll or edit.
func (p *Poller) OnUpdate(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for in-flight polls. Any response that still
// arrives is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.generation++
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Leave stops polling and removes the user from the session.
func (p *Poller) Leave(ctx context.Context) error {
	p.Stop()
	return p.client.Leave(ctx, p.sessionID, p.userID)
}

// Err reports why polling halted, or nil while it is still live.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyState(p.state)
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// PollOnce fetches and applies server state synchronously.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	return p.poll(ctx, gen)
}

// Edit writes the full buffer immediately. The write is last-write-wins on
// the server; a stale base version is only reported.
func (p *Poller) Edit(ctx context.Context, code string) (session.CodeUpdate, error) {
	p.mu.Lock()
	base := p.state.CodeVersion
	p.state.Code = code
	p.mu.Unlock()

	res, err := p.client.UpdateCode(ctx, p.sessionID, p.userID, code, &base)
	if err != nil {
		p.log.Warn().Err(err).Msg("code update failed; next poll will resync")
		return session.CodeUpdate{}, err
	}
	if res.Conflict {
		p.log.Warn().Int64("base_version", base).Int64("version", res.Version).Msg("code update overwrote a concurrent edit")
	}

	p.mu.Lock()
	if res.Version > p.state.CodeVersion {
		p.synced = true
		p.state.Code = code
		p.state.CodeVersion = res.Version
	}
	snapshot, fn := copyState(p.state), p.onUpdate
	p.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
	return res, nil
}

func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.halted != nil {
		p.mu.Unlock()
		return
	}
	if !p.retryAt.IsZero() && time.Now().Before(p.retryAt) {
		p.stats.BackedOff++
		p.mu.Unlock()
		return
	}
	if p.inFlight {
		p.stats.Skipped++
		p.mu.Unlock()
		p.log.Debug().Msg("previous poll still in flight; skipping tick")
		return
	}
	p.inFlight = true
	gen := p.generation
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.inFlight = false
			p.mu.Unlock()
		}()
		_ = p.poll(ctx, gen)
	}()
}

func (p *Poller) poll(ctx context.Context, gen uint64) error {
	sess, err := p.client.GetSession(ctx, p.sessionID)
	if err == nil {
		var chat []session.ChatEntry
		chat, err = p.client.Chat(ctx, p.sessionID)
		if err == nil {
			p.apply(gen, sess, chat)
			return nil
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	p.mu.Lock()
	p.stats.Failures++
	var apiErr *APIError
	if errors.As(err, &apiErr) && reliability.IsTerminalSessionStatus(apiErr.Status) {
		p.halted = err
		p.mu.Unlock()
		p.log.Warn().Err(err).Msg("session unreachable; polling halted")
		return err
	}
	p.failures++
	if apiErr == nil || reliability.IsRetryableHTTPStatus(apiErr.Status) {
		p.retryAt = time.Now().Add(reliability.ExponentialBackoff(p.failures-1, p.interval, maxPollBackoff))
	}
	failures := p.failures
	p.mu.Unlock()
	p.log.Warn().Err(err).Int("consecutive_failures", failures).Msg("poll failed")
	return err
}

func (p *Poller) apply(gen uint64, sess *session.Session, chat []session.ChatEntry) {
	p.mu.Lock()
	if gen != p.generation || sess.ID != p.sessionID {
		p.stats.Discarded++
		p.mu.Unlock()
		return
	}

	p.stats.Polls++
	p.failures = 0
	p.retryAt = time.Time{}
	if sess.Status == session.StatusCompleted && p.halted == nil {
		p.halted = ErrSessionEnded
	}
	p.state.Status = sess.Status
	p.state.Participants = append([]session.Participant(nil), sess.Participants...)
	p.state.ChatLog = append([]session.ChatEntry(nil), chat...)
	if !p.synced || sess.CodeVersion > p.state.CodeVersion {
		p.synced = true
		p.state.Code = sess.Code
		p.state.CodeVersion = sess.CodeVersion
	}
	p.state.LastSync = time.Now().UTC()
	snapshot, fn := copyState(p.state), p.onUpdate
	p.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func copyState(s State) State {
	s.Participants = append([]session.Participant(nil), s.Participants...)
	s.ChatLog = append([]session.ChatEntry(nil), s.ChatLog...)
	return s
}
