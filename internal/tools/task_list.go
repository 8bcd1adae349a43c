package tools

import (
	"fmt"

	"github.com/kazz187/taskmux/internal/task"
)

type TaskListArgs struct {
	Statuses []string `json:"statuses,omitempty"`
}

type TaskListResult struct {
	Success bool             `json:"success"`
	Tasks   []*task.TaskView `json:"tasks"`
	Error   string           `json:"error,omitempty"`
}

// TaskList lists the workspace's descendant tasks, active ones by default.
func (t *Tools) TaskList(workspaceID string, args TaskListArgs) *TaskListResult {
	statuses := task.ActiveStatuses
	if len(args.Statuses) > 0 {
		statuses = make([]task.Status, 0, len(args.Statuses))
		for _, s := range dedupe(args.Statuses) {
			st := task.Status(s)
			if !st.Valid() {
				return &TaskListResult{Tasks: []*task.TaskView{}, Error: fmt.Sprintf("unknown status %q", s)}
			}
			statuses = append(statuses, st)
		}
	}
	tasks := t.tasks.ListDescendantTasks(workspaceID, statuses)
	if tasks == nil {
		tasks = []*task.TaskView{}
	}
	return &TaskListResult{Success: true, Tasks: tasks}
}
