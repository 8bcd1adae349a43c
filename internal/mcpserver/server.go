// Package mcpserver exposes the agent tools of one workspace over MCP. Each
// call is forwarded to the taskmux daemon.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kazz187/taskmux/internal/tools"
)

// Tools is the subset of the daemon client the MCP server forwards to.
type Tools interface {
	Task(ctx context.Context, workspaceID string, args tools.TaskArgs) (*tools.TaskResult, error)
	TaskAwait(ctx context.Context, workspaceID string, args tools.TaskAwaitArgs) (*tools.TaskAwaitResult, error)
	TaskList(ctx context.Context, workspaceID string, args tools.TaskListArgs) (*tools.TaskListResult, error)
	TaskTerminate(ctx context.Context, workspaceID string, args tools.TaskTerminateArgs) (*tools.TaskTerminateResult, error)
	Bash(ctx context.Context, workspaceID string, args tools.BashArgs) (*tools.BashResult, error)
	StatusSet(ctx context.Context, workspaceID string, args tools.StatusSetArgs) (*tools.StatusSetResult, error)
}

const instructions = "Tools for delegating work to sub-agent tasks and running shell scripts in this workspace. " +
	"Start sub-agents with task, wait for their reports with task_await, inspect them with task_list and stop them with task_terminate. " +
	"bash runs a script in the workspace dir, in the background when run_in_background is set."

// New builds an MCP server whose tools act on workspaceID.
func New(c Tools, workspaceID, version string) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "taskmux",
		Title:   "taskmux",
		Version: version,
	}, &mcp.ServerOptions{Instructions: instructions})

	add(s, &mcp.Tool{
		Name:        "task",
		Description: "Start a sub-agent task with the given prompt. Returns immediately with the task id; use task_await to collect the report.",
	}, workspaceID, c.Task)
	add(s, &mcp.Tool{
		Name:        "task_await",
		Description: "Wait for sub-agent tasks to finish and return their reports. Without task_ids it waits for every task you started. Returns early with status timeout when timeout_secs elapses.",
	}, workspaceID, c.TaskAwait)
	add(s, &mcp.Tool{
		Name:        "task_list",
		Description: "List the sub-agent tasks started from this workspace or its descendants, optionally filtered by status.",
	}, workspaceID, c.TaskList)
	add(s, &mcp.Tool{
		Name:        "task_terminate",
		Description: "Stop sub-agent tasks and all of their descendants.",
	}, workspaceID, c.TaskTerminate)
	add(s, &mcp.Tool{
		Name:        "bash",
		Description: "Run a shell script in the workspace directory. Long-running scripts can run in the background; their output stays available through the process registry.",
	}, workspaceID, c.Bash)
	add(s, &mcp.Tool{
		Name:        "status_set",
		Description: "Set the workspace status line from the JSON printed by a script. The script is re-run every poll_interval_secs when set.",
	}, workspaceID, c.StatusSet)
	return s
}

// Run serves MCP over stdin/stdout until the peer disconnects or ctx ends.
func Run(ctx context.Context, s *mcp.Server) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

func add[In, Out any](s *mcp.Server, tool *mcp.Tool, workspaceID string, fn func(context.Context, string, In) (*Out, error)) {
	mcp.AddTool(s, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		out, err := fn(ctx, workspaceID, in)
		if err != nil {
			slog.ErrorContext(ctx, "tool call failed", "tool", tool.Name, "error", err)
			return nil, nil, err
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}, nil, nil
	})
}
