package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/tools"
)

type fakeTools struct {
	workspaces []string
	bashArgs   tools.BashArgs
	taskErr    error
}

func (f *fakeTools) Task(_ context.Context, ws string, args tools.TaskArgs) (*tools.TaskResult, error) {
	f.workspaces = append(f.workspaces, ws)
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	return &tools.TaskResult{Success: true, Status: "running", TaskID: "t-" + args.Title}, nil
}

func (f *fakeTools) TaskAwait(context.Context, string, tools.TaskAwaitArgs) (*tools.TaskAwaitResult, error) {
	return &tools.TaskAwaitResult{}, nil
}

func (f *fakeTools) TaskList(context.Context, string, tools.TaskListArgs) (*tools.TaskListResult, error) {
	return &tools.TaskListResult{Success: true}, nil
}

func (f *fakeTools) TaskTerminate(context.Context, string, tools.TaskTerminateArgs) (*tools.TaskTerminateResult, error) {
	return &tools.TaskTerminateResult{}, nil
}

func (f *fakeTools) Bash(_ context.Context, ws string, args tools.BashArgs) (*tools.BashResult, error) {
	f.workspaces = append(f.workspaces, ws)
	f.bashArgs = args
	code := 0
	return &tools.BashResult{Success: true, ExitCode: &code, Output: "hi\n"}, nil
}

func (f *fakeTools) StatusSet(context.Context, string, tools.StatusSetArgs) (*tools.StatusSetResult, error) {
	return &tools.StatusSetResult{}, nil
}

func connect(t *testing.T, f *fakeTools) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	ss, err := New(f, "ws-1", "test").Connect(ctx, st, nil)
	require.NoError(t, err)
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil).Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestServer_ListTools(t *testing.T) {
	cs := connect(t, &fakeTools{})
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"task", "task_await", "task_list", "task_terminate", "bash", "status_set"}, names)
}

func TestServer_CallTool(t *testing.T) {
	f := &fakeTools{}
	cs := connect(t, f)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "bash",
		Arguments: map[string]any{"script": "echo hi", "timeout_secs": 5},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got tools.BashResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "hi\n", got.Output)
	assert.Equal(t, "echo hi", f.bashArgs.Script)
	require.NotNil(t, f.bashArgs.TimeoutSecs)
	assert.InDelta(t, 5.0, *f.bashArgs.TimeoutSecs, 0)
	assert.Equal(t, []string{"ws-1"}, f.workspaces)
}

func TestServer_CallToolError(t *testing.T) {
	f := &fakeTools{taskErr: errors.New("daemon unreachable")}
	cs := connect(t, f)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "task",
		Arguments: map[string]any{"prompt": "do it"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "daemon unreachable")
}
