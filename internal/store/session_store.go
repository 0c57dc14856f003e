package store

import (
	"context"
	"errors"

	"conductor/internal/types"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions. Sessions are never deleted by the engine,
// so the interface carries no delete.
type SessionStore interface {
	Create(ctx context.Context, session *types.Session) (*types.Session, error)
	Get(ctx context.Context, id string) (*types.Session, bool, error)
	List(ctx context.Context) ([]*types.Session, error)
	Update(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error)
}
