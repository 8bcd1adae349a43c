// Package tools adapts the task, process and status services to the tool
// calls a coding agent makes. Every tool returns a tagged result; failures
// are reported in the result, never as a Go error.
package tools

import (
	"context"
	"time"

	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/internal/task"
)

type TaskService interface {
	Spawn(ctx context.Context, parentWorkspaceID string, spec task.SpawnSpec) (*task.Task, error)
	Get(taskID string) (*task.Task, bool)
	WaitForReport(ctx context.Context, taskID string, opts task.WaitOptions) (*task.Report, error)
	ListActiveDescendantTaskIDs(workspaceID string) []string
	FilterDescendantTaskIDs(ancestorWorkspaceID string, taskIDs []string) []string
	ListDescendantTasks(workspaceID string, statuses []task.Status) []*task.TaskView
	TerminateDescendantTask(ctx context.Context, ancestorWorkspaceID, taskID string) ([]string, error)
}

type ProcessRegistry interface {
	Spawn(ctx context.Context, workspaceID string, req bgprocess.SpawnRequest) (*bgprocess.Process, error)
	Snapshot(workspaceID string) *bgprocess.Snapshot
	Output(workspaceID, processID string) (string, error)
	Subscribe(workspaceID string) (string, <-chan *bgprocess.Snapshot)
	Unsubscribe(id string)
}

type StatusSetter interface {
	Set(ctx context.Context, workspaceID, script string, pollInterval time.Duration) (*statusset.Status, error)
}

type Config struct {
	DefaultAwaitTimeout time.Duration
	MaxAwaitTimeout     time.Duration
}

type Tools struct {
	tasks     TaskService
	processes ProcessRegistry
	status    StatusSetter
	cfg       Config
}

type Option func(*Tools)

func WithProcesses(r ProcessRegistry) Option {
	return func(t *Tools) { t.processes = r }
}

func WithStatusSetter(s StatusSetter) Option {
	return func(t *Tools) { t.status = s }
}

func New(tasks TaskService, cfg Config, opts ...Option) *Tools {
	t := &Tools{tasks: tasks, cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// dedupe drops empty and repeated ids, keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// partitionScope splits ids into those in the workspace's scope and a
// per-id status for the rest: not_found when the task is unknown,
// invalid_scope when it belongs elsewhere.
func (t *Tools) partitionScope(workspaceID string, ids []string) (map[string]bool, map[string]string) {
	inScope := make(map[string]bool, len(ids))
	for _, id := range t.tasks.FilterDescendantTaskIDs(workspaceID, ids) {
		inScope[id] = true
	}
	rejected := make(map[string]string)
	for _, id := range ids {
		if inScope[id] {
			continue
		}
		if _, ok := t.tasks.Get(id); ok {
			rejected[id] = StatusInvalidScope
		} else {
			rejected[id] = StatusNotFound
		}
	}
	return inScope, rejected
}
