package tools

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
)

type TaskAwaitArgs struct {
	TaskIDs     []string `json:"task_ids,omitempty"`
	TimeoutSecs *float64 `json:"timeout_secs,omitempty"`
}

type TaskAwaitItem struct {
	Status         string `json:"status"`
	TaskID         string `json:"taskId"`
	ReportMarkdown string `json:"reportMarkdown,omitempty"`
	Title          string `json:"title,omitempty"`
	Error          string `json:"error,omitempty"`
}

type TaskAwaitResult struct {
	Results []*TaskAwaitItem `json:"results"`
}

func (t *Tools) awaitTimeout(secs *float64) time.Duration {
	timeout := t.cfg.DefaultAwaitTimeout
	if secs != nil {
		timeout = time.Duration(*secs * float64(time.Second))
	}
	if t.cfg.MaxAwaitTimeout > 0 && (timeout <= 0 || timeout > t.cfg.MaxAwaitTimeout) {
		timeout = t.cfg.MaxAwaitTimeout
	}
	return timeout
}

// TaskAwait waits for every requested task at once under one shared timeout.
// Without ids it waits for all active descendants of the workspace.
func (t *Tools) TaskAwait(ctx context.Context, workspaceID string, args TaskAwaitArgs) *TaskAwaitResult {
	ids := dedupe(args.TaskIDs)
	if args.TaskIDs == nil {
		ids = t.tasks.ListActiveDescendantTaskIDs(workspaceID)
	}
	results := make([]*TaskAwaitItem, len(ids))
	inScope, rejected := t.partitionScope(workspaceID, ids)

	timeout := t.awaitTimeout(args.TimeoutSecs)
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	p := pool.New()
	for i, id := range ids {
		if status, ok := rejected[id]; ok {
			results[i] = &TaskAwaitItem{Status: status, TaskID: id}
			continue
		}
		if !inScope[id] {
			continue
		}
		p.Go(func() {
			opts := task.WaitOptions{RequestingWorkspaceID: workspaceID}
			if !deadline.IsZero() {
				// A wait that starts late still ends with the others.
				opts.Timeout = max(time.Until(deadline), time.Nanosecond)
			}
			report, err := t.tasks.WaitForReport(ctx, id, opts)
			results[i] = awaitItem(id, report, err)
		})
	}
	p.Wait()

	return &TaskAwaitResult{Results: results}
}

func awaitItem(id string, report *task.Report, err error) *TaskAwaitItem {
	if err == nil {
		return &TaskAwaitItem{
			Status:         StatusCompleted,
			TaskID:         id,
			ReportMarkdown: report.ReportMarkdown,
			Title:          report.Title,
		}
	}

	var timeoutErr *task.TimeoutError
	var statusErr *task.StatusError
	switch {
	case errors.As(err, &timeoutErr):
		return &TaskAwaitItem{Status: string(timeoutErr.Status), TaskID: id, Error: cerr.Message(err)}
	case errors.As(err, &statusErr):
		return &TaskAwaitItem{Status: string(statusErr.Status), TaskID: id, Error: cerr.Message(err)}
	case errors.Is(err, task.ErrInterrupted):
		return &TaskAwaitItem{Status: StatusInterrupted, TaskID: id, Error: "Interrupted"}
	case cerr.IsCode(err, cerr.PermissionDenied):
		return &TaskAwaitItem{Status: StatusInvalidScope, TaskID: id, Error: cerr.Message(err)}
	default:
		return &TaskAwaitItem{Status: StatusError, TaskID: id, Error: cerr.Message(err)}
	}
}
