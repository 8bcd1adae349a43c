package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
)

type TaskRunner interface {
	Spawn(ctx context.Context, parentWorkspaceID string, spec task.SpawnSpec) (*task.Task, error)
	WaitForReport(ctx context.Context, taskID string, opts task.WaitOptions) (*task.Report, error)
	TerminateDescendantTask(ctx context.Context, ancestorWorkspaceID, taskID string) ([]string, error)
}

// TaskImplementer implements each checklist item in a sub-agent task.
type TaskImplementer struct {
	tasks     TaskRunner
	agentType string
}

func NewTaskImplementer(tasks TaskRunner, agentType string) *TaskImplementer {
	return &TaskImplementer{tasks: tasks, agentType: agentType}
}

func (ti *TaskImplementer) Implement(ctx context.Context, req ImplementRequest) (*ImplementResult, error) {
	t, err := ti.tasks.Spawn(ctx, req.WorkspaceID, task.SpawnSpec{
		Title:     fmt.Sprintf("%s (iteration %d)", req.Item.Title, req.Iteration),
		Prompt:    BuildPrompt(req),
		AgentType: ti.agentType,
	})
	if err != nil {
		return nil, err
	}

	report, err := ti.tasks.WaitForReport(ctx, t.ID, task.WaitOptions{RequestingWorkspaceID: req.WorkspaceID})
	if err != nil {
		if ctx.Err() != nil {
			// Do not leave the sub-agent running after the loop stops.
			_, _ = ti.tasks.TerminateDescendantTask(context.WithoutCancel(ctx), req.WorkspaceID, t.ID)
		}
		return nil, cerr.NewError(cerr.CodeOf(err), fmt.Sprintf("task %s: %s", t.ID, cerr.Message(err)), err)
	}
	return &ImplementResult{Report: report.ReportMarkdown}, nil
}

// BuildPrompt renders the instructions for one item.
func BuildPrompt(req ImplementRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Implement this checklist item: %s\n", req.Item.Title)
	if req.Attempt > 1 {
		fmt.Fprintf(&sb, "\nThis is attempt %d.", req.Attempt)
	}
	if req.GateFailure != "" {
		fmt.Fprintf(&sb, " The previous attempt failed a check:\n\n```\n%s\n```\n", strings.TrimSpace(req.GateFailure))
	}
	if len(req.PriorReports) > 0 {
		sb.WriteString("\nReports from earlier iterations:\n")
		for i, r := range req.PriorReports {
			fmt.Fprintf(&sb, "\n--- report %d ---\n%s\n", i+1, strings.TrimSpace(r))
		}
	}
	sb.WriteString("\nDo not commit. When done, reply with a markdown report starting with a '# ' heading.")
	return sb.String()
}
