package session

import (
	"context"
	"sort"
	"sync"
)

// InMemoryBackend keeps sessions in process memory for local/dev use.
type InMemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{sessions: make(map[string]*Session)}
}

func (b *InMemoryBackend) Load(_ context.Context, id string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (b *InMemoryBackend) Save(_ context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = clone(s)
	return nil
}

func (b *InMemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(b.sessions, id)
	return nil
}

func (b *InMemoryBackend) List(_ context.Context) ([]*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *InMemoryBackend) Mode() string { return "memory" }

func (b *InMemoryBackend) Close() error { return nil }
