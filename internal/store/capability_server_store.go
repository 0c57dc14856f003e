package store

import (
	"context"
	"errors"

	"conductor/internal/types"
)

var ErrCapabilityServerNotFound = errors.New("capability server not found")

// CapabilityServerStore is the registry of external tool providers. Servers
// are keyed by name.
type CapabilityServerStore interface {
	Upsert(ctx context.Context, server *types.CapabilityServer) (*types.CapabilityServer, error)
	Get(ctx context.Context, name string) (*types.CapabilityServer, bool, error)
	List(ctx context.Context) ([]*types.CapabilityServer, error)
	// ListEnabledForSession returns enabled servers whose session scope
	// includes sessionID. Unscoped servers apply to every session.
	ListEnabledForSession(ctx context.Context, sessionID string) ([]*types.CapabilityServer, error)
	SetEnabled(ctx context.Context, name string, enabled bool) (*types.CapabilityServer, error)
	Delete(ctx context.Context, name string) error
}
