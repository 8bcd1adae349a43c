package tools

import (
	"context"
	"strings"

	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
)

// Per-id result statuses beyond the task statuses themselves.
const (
	StatusNotFound     = string(task.StatusNotFound)
	StatusInvalidScope = "invalid_scope"
	StatusInterrupted  = "interrupted"
	StatusError        = "error"
	StatusTerminated   = string(task.StatusTerminated)
	StatusCompleted    = string(task.StatusCompleted)
)

type TaskArgs struct {
	Prompt    string `json:"prompt"`
	Title     string `json:"title,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

type TaskResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Task spawns a sub-agent task under the calling workspace.
func (t *Tools) Task(ctx context.Context, workspaceID string, args TaskArgs) *TaskResult {
	if strings.TrimSpace(args.Prompt) == "" {
		return &TaskResult{Error: "prompt is required"}
	}
	created, err := t.tasks.Spawn(ctx, workspaceID, task.SpawnSpec{
		Title:     args.Title,
		Prompt:    args.Prompt,
		AgentType: args.AgentType,
	})
	if err != nil {
		return &TaskResult{Error: cerr.Message(err)}
	}
	return &TaskResult{Success: true, Status: string(created.Status), TaskID: created.ID}
}
