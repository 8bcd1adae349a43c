package task

import (
	"context"

	"github.com/kazz187/taskmux/internal/workspace"
)

// Runner drives one sub-agent session for a task. It returns when the
// agent's turn ends or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

type RunRequest struct {
	TaskID      string
	WorkspaceID string
	Dir         string
	Title       string
	Prompt      string
	AgentType   string
	// SessionID resumes an earlier session when set.
	SessionID string
}

// RunResult carries the session id and, when the agent produced one, the
// report. An empty ReportMarkdown means the turn ended without a report.
type RunResult struct {
	SessionID      string
	ReportMarkdown string
	ReportTitle    string
}

type RunnerFunc func(ctx context.Context, req RunRequest) (*RunResult, error)

func (f RunnerFunc) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	return f(ctx, req)
}

// Workspaces creates and removes the child workspaces tasks run in.
type Workspaces interface {
	CreateChild(ctx context.Context, parentID, id, name string) (*workspace.Workspace, error)
	Get(id string) (*workspace.Workspace, bool)
	Remove(ctx context.Context, id string) error
}

const (
	reportPrompt = "You ended your turn without a final report. Reply now with a markdown report of what you did. " +
		"Start with a single '# ' heading that summarises the outcome."
	resumePrompt = "The session was interrupted. Continue the task where you left off and finish with a markdown report " +
		"that starts with a single '# ' heading."
)
