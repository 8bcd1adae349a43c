package tools

import (
	"context"

	"github.com/kazz187/taskmux/pkg/cerr"
)

type TaskTerminateArgs struct {
	TaskIDs []string `json:"task_ids"`
}

type TaskTerminateItem struct {
	Status            string   `json:"status"`
	TaskID            string   `json:"taskId"`
	TerminatedTaskIDs []string `json:"terminatedTaskIds,omitempty"`
	Error             string   `json:"error,omitempty"`
}

type TaskTerminateResult struct {
	Results []*TaskTerminateItem `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// TaskTerminate stops each requested task and its descendants. Every id gets
// its own outcome, in input order.
func (t *Tools) TaskTerminate(ctx context.Context, workspaceID string, args TaskTerminateArgs) *TaskTerminateResult {
	ids := dedupe(args.TaskIDs)
	if len(ids) == 0 {
		return &TaskTerminateResult{Results: []*TaskTerminateItem{}, Error: "task_ids is required"}
	}
	inScope, rejected := t.partitionScope(workspaceID, ids)

	results := make([]*TaskTerminateItem, 0, len(ids))
	for _, id := range ids {
		if status, ok := rejected[id]; ok {
			results = append(results, &TaskTerminateItem{Status: status, TaskID: id})
			continue
		}
		if !inScope[id] {
			continue
		}
		stopped, err := t.tasks.TerminateDescendantTask(ctx, workspaceID, id)
		results = append(results, terminateItem(id, stopped, err))
	}
	return &TaskTerminateResult{Results: results}
}

func terminateItem(id string, stopped []string, err error) *TaskTerminateItem {
	switch {
	case err == nil:
		return &TaskTerminateItem{Status: StatusTerminated, TaskID: id, TerminatedTaskIDs: stopped}
	case cerr.IsCode(err, cerr.NotFound):
		return &TaskTerminateItem{Status: StatusNotFound, TaskID: id}
	case cerr.IsCode(err, cerr.PermissionDenied):
		return &TaskTerminateItem{Status: StatusInvalidScope, TaskID: id}
	default:
		return &TaskTerminateItem{Status: StatusError, TaskID: id, TerminatedTaskIDs: stopped, Error: cerr.Message(err)}
	}
}
