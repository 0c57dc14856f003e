package store

import (
	"context"
	"errors"

	"conductor/internal/types"
)

var ErrMessageIndexConflict = errors.New("message index conflict")

// MessageStore persists the ordered message log. Messages are immutable and
// keyed by (session, index); creating a message whose index is already taken
// fails with ErrMessageIndexConflict.
type MessageStore interface {
	Create(ctx context.Context, message *types.Message) (*types.Message, error)
	// CreateBatch writes all messages in one transaction. A duplicate id or
	// a duplicate (session, index) pair anywhere in the batch rejects the
	// whole batch.
	CreateBatch(ctx context.Context, messages []*types.Message) ([]*types.Message, error)
	ListBySession(ctx context.Context, sessionID string) ([]*types.Message, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}
