package task

import "context"

// Repository persists tasks under their parent workspace.
type Repository interface {
	Save(ctx context.Context, t *Task) error
	Get(ctx context.Context, workspaceID, id string) (*Task, error)
	List(ctx context.Context, workspaceID string) ([]*Task, error)
	Delete(ctx context.Context, workspaceID, id string) error
}
