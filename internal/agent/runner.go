// Package agent runs sub-agent tasks through the claude CLI.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kazz187/taskmux/internal/config"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/claudecode"
	"github.com/kazz187/taskmux/pkg/clog"
)

// Agent types understood by the runner. Unknown types run as general.
const (
	TypeGeneral = "general"
	TypeExplore = "explore"
)

const explorePrompt = "You are a read-only exploration agent. Investigate and report; do not modify files."

type Runner struct {
	env *config.AgentEnv
	run func(ctx context.Context, prompt string, opts *claudecode.Options) (*claudecode.RunResult, error)
}

var _ task.Runner = (*Runner)(nil)

func NewRunner(env *config.AgentEnv) *Runner {
	return &Runner{env: env, run: claudecode.RunSync}
}

func (r *Runner) options(req task.RunRequest) *claudecode.Options {
	opts := &claudecode.Options{
		CLIPath:            r.env.CLIPath,
		Cwd:                req.Dir,
		Model:              r.env.Model,
		MaxTurns:           r.env.MaxTurns,
		PermissionMode:     claudecode.PermissionMode(r.env.PermissionMode),
		AppendSystemPrompt: r.env.SystemPrompt,
		Resume:             req.SessionID,
		Env:                []string{"TASKMUX_TASK_ID=" + req.TaskID, "TASKMUX_WORKSPACE_ID=" + req.WorkspaceID},
	}
	if req.AgentType == TypeExplore {
		opts.PermissionMode = claudecode.PermissionModePlan
		opts.AppendSystemPrompt = strings.TrimSpace(explorePrompt + "\n\n" + r.env.SystemPrompt)
	}
	return opts
}

func (r *Runner) Run(ctx context.Context, req task.RunRequest) (*task.RunResult, error) {
	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttributes(ctx, map[string]any{
		"task_id":    req.TaskID,
		"agent_type": req.AgentType,
	})
	slog.InfoContext(ctx, "starting sub-agent turn", "resume", req.SessionID != "")

	res, err := r.run(ctx, req.Prompt, r.options(req))
	out := &task.RunResult{SessionID: req.SessionID}
	if res != nil && res.SessionID != "" {
		out.SessionID = res.SessionID
	}
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		var notFound *claudecode.CLINotFoundError
		if errors.As(err, &notFound) {
			return out, cerr.NewError(cerr.Unavailable, notFound.Error(), err)
		}
		return out, cerr.NewError(cerr.Internal, "sub-agent run failed", err)
	}

	out.ReportMarkdown = strings.TrimSpace(res.Result)
	out.ReportTitle = ReportTitle(out.ReportMarkdown)
	return out, nil
}

// ReportTitle returns the text of the first level-one heading, or "".
func ReportTitle(markdown string) string {
	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return ""
}
