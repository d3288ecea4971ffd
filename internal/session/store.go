package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrInactive       = errors.New("session is not active")
	ErrNotParticipant = errors.New("user is not a participant")
)

// Backend persists whole session documents. Implementations need not be
// safe against concurrent writers to the same id; Manager serializes them.
type Backend interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
	Mode() string
	Close() error
}
