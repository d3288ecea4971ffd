package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errUnchanged = errors.New("unchanged")

// CreateRequest carries the inputs of a session creation.
type CreateRequest struct {
	CreatorID string
	Username  string
	Settings  Settings
}

// Manager owns the session lifecycle on top of a Backend. Every mutation of
// one session id runs under that id's lock, so writes never interleave.
type Manager struct {
	backend   Backend
	locks     *keyedMutex
	now       func() time.Time
	opTimeout time.Duration

	mu        sync.RWMutex
	retention time.Duration
	onReap    func(*Session)
	observeOp func(op string, d time.Duration)
}

func NewManager(backend Backend) *Manager {
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	return &Manager{
		backend: backend,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetOpTimeout bounds every backend round trip. Zero means no bound.
func (m *Manager) SetOpTimeout(d time.Duration) {
	m.opTimeout = d
}

// SetRetention enables reaping of completed or empty sessions idle for at least d.
func (m *Manager) SetRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention = d
}

func (m *Manager) SetReapHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReap = hook
}

// SetOpObserver receives the duration of every store operation.
func (m *Manager) SetOpObserver(fn func(op string, d time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observeOp = fn
}

func (m *Manager) BackendMode() string {
	return m.backend.Mode()
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("create", time.Now())

	now := m.now()
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = req.CreatorID
	}
	s := &Session{
		ID:        uuid.NewString(),
		CreatorID: req.CreatorID,
		Participants: []Participant{{
			UserID:   req.CreatorID,
			Username: username,
			JoinedAt: now,
		}},
		Code:      req.Settings.InitialCode,
		ChatLog:   []ChatEntry{},
		Cursors:   map[string]Cursor{},
		Language:  req.Settings.Language,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.backend.Save(ctx, s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("get", time.Now())
	return m.backend.Load(ctx, id)
}

// Join adds userID to an active session. Joining twice is a no-op.
func (m *Manager) Join(ctx context.Context, id, userID, username string) (*Session, error) {
	return m.mutate(ctx, "join", id, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrInactive
		}
		if s.HasParticipant(userID) {
			return errUnchanged
		}
		if strings.TrimSpace(username) == "" {
			username = userID
		}
		s.Participants = append(s.Participants, Participant{
			UserID:   userID,
			Username: username,
			JoinedAt: m.now(),
		})
		return nil
	})
}

// Leave removes userID. The session itself survives even when it empties.
func (m *Manager) Leave(ctx context.Context, id, userID string) error {
	_, err := m.mutate(ctx, "leave", id, func(s *Session) error {
		idx := s.participantIndex(userID)
		if idx < 0 {
			return ErrNotParticipant
		}
		s.Participants = append(s.Participants[:idx], s.Participants[idx+1:]...)
		delete(s.Cursors, userID)
		return nil
	})
	return err
}

// UpdateCode overwrites the buffer unconditionally. When baseVersion is set
// and older than the stored version, the result flags the lost update.
func (m *Manager) UpdateCode(ctx context.Context, id, userID, code string, baseVersion *int64) (CodeUpdate, error) {
	var res CodeUpdate
	_, err := m.mutate(ctx, "update_code", id, func(s *Session) error {
		if baseVersion != nil && *baseVersion < s.CodeVersion {
			res.Conflict = true
		}
		s.Code = code
		s.CodeVersion++
		s.LastEditedBy = userID
		res.Version = s.CodeVersion
		return nil
	})
	if err != nil {
		return CodeUpdate{}, err
	}
	return res, nil
}

func (m *Manager) UpdateCursor(ctx context.Context, id, userID string, cursor Cursor) (map[string]Cursor, error) {
	s, err := m.mutate(ctx, "update_cursor", id, func(s *Session) error {
		if s.Cursors == nil {
			s.Cursors = map[string]Cursor{}
		}
		s.Cursors[userID] = cursor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Cursors, nil
}

// AppendChat stores a message with a server timestamp that never goes
// backwards within the session.
func (m *Manager) AppendChat(ctx context.Context, id, userID, message string) (ChatEntry, error) {
	var entry ChatEntry
	_, err := m.mutate(ctx, "append_chat", id, func(s *Session) error {
		ts := m.now()
		if n := len(s.ChatLog); n > 0 && ts.Before(s.ChatLog[n-1].Timestamp) {
			ts = s.ChatLog[n-1].Timestamp
		}
		entry = ChatEntry{
			ID:        uuid.NewString(),
			UserID:    userID,
			Message:   message,
			Timestamp: ts,
		}
		s.ChatLog = append(s.ChatLog, entry)
		return nil
	})
	if err != nil {
		return ChatEntry{}, err
	}
	return entry, nil
}

func (m *Manager) Chat(ctx context.Context, id string) ([]ChatEntry, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("chat", time.Now())
	s, err := m.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]ChatEntry, len(s.ChatLog))
	copy(out, s.ChatLog)
	return out, nil
}

// End marks the session completed. The record is kept; ending twice is a no-op.
func (m *Manager) End(ctx context.Context, id string) (*Session, error) {
	return m.mutate(ctx, "end", id, func(s *Session) error {
		if s.Status == StatusCompleted {
			return errUnchanged
		}
		now := m.now()
		s.Status = StatusCompleted
		s.EndedAt = &now
		return nil
	})
}

// Delete removes the record entirely.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("delete", time.Now())
	return m.backend.Delete(ctx, id)
}

func (m *Manager) ActiveCount(ctx context.Context) (int, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	all, err := m.backend.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range all {
		if s.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.Reap(ctx)
			}
		}
	}()
}

// Reap deletes sessions that are completed or empty and idle past retention.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	m.mu.RLock()
	retention := m.retention
	hook := m.onReap
	m.mu.RUnlock()
	if retention <= 0 {
		return 0, nil
	}
	defer m.observe("reap", time.Now())

	listCtx, cancel := m.opContext(ctx)
	all, err := m.backend.List(listCtx)
	cancel()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, candidate := range all {
		if !m.reapable(candidate, retention) {
			continue
		}
		s, ok := m.reapOne(ctx, candidate.ID, retention)
		if !ok {
			continue
		}
		reaped++
		if hook != nil {
			hook(s)
		}
	}
	return reaped, nil
}

func (m *Manager) reapOne(ctx context.Context, id string, retention time.Duration) (*Session, bool) {
	unlock := m.locks.Lock(id)
	defer unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	// Re-check under the lock; a join may have revived it.
	s, err := m.backend.Load(ctx, id)
	if err != nil || !m.reapable(s, retention) {
		return nil, false
	}
	if err := m.backend.Delete(ctx, id); err != nil {
		return nil, false
	}
	return s, true
}

func (m *Manager) reapable(s *Session, retention time.Duration) bool {
	if s.Status != StatusCompleted && len(s.Participants) > 0 {
		return false
	}
	return m.now().Sub(s.UpdatedAt) >= retention
}

func (m *Manager) mutate(ctx context.Context, op, id string, fn func(*Session) error) (*Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe(op, time.Now())

	s, err := m.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		if errors.Is(err, errUnchanged) {
			return s, nil
		}
		return nil, err
	}
	s.UpdatedAt = m.now()
	if err := m.backend.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.opTimeout)
}

func (m *Manager) observe(op string, start time.Time) {
	m.mu.RLock()
	fn := m.observeOp
	m.mu.RUnlock()
	if fn != nil {
		fn(op, time.Since(start))
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
