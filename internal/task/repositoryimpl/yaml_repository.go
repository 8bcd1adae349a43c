package repositoryimpl

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/storage"
)

const tasksDir = "tasks"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func prefix(workspaceID string) string {
	return fmt.Sprintf("%s/%s", workspaceID, tasksDir)
}

func path(workspaceID, id string) string {
	return fmt.Sprintf("%s/%s.yaml", prefix(workspaceID), id)
}

func (r *YAMLRepository) Save(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ParentWorkspaceID, t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, workspaceID, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, path(workspaceID, id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) List(ctx context.Context, workspaceID string) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, prefix(workspaceID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	var all []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t task.Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			slog.WarnContext(ctx, "skipping unreadable task", "path", p, "error", err)
			continue
		}
		all = append(all, &t)
	}
	return all, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, workspaceID, id string) error {
	if err := r.storage.Delete(ctx, path(workspaceID, id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}
