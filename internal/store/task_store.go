package store

import (
	"context"
	"errors"

	"conductor/internal/types"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskStore interface {
	Create(ctx context.Context, task *types.Task) (*types.Task, error)
	Get(ctx context.Context, id string) (*types.Task, bool, error)
	List(ctx context.Context) ([]*types.Task, error)
	Update(ctx context.Context, id string, patch types.TaskPatch) (*types.Task, error)
	AttachSession(ctx context.Context, taskID, sessionID string) (*types.Task, error)
}
