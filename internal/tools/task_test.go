package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func TestTask(t *testing.T) {
	svc := newTaskService(t, &reportRunner{})
	tl := newTools(svc)

	res := tl.Task(context.Background(), "ws", tools.TaskArgs{Prompt: "write tests", Title: "Tests"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, []string{"queued", "running"}, res.Status)
	got, ok := svc.Get(res.TaskID)
	require.True(t, ok)
	assert.Equal(t, "Tests", got.Title)
	assert.Equal(t, "ws", got.ParentWorkspaceID)

	bad := tl.Task(context.Background(), "ws", tools.TaskArgs{Prompt: "  "})
	assert.Equal(t, &tools.TaskResult{Error: "prompt is required"}, bad)
}

func TestTask_SpawnError(t *testing.T) {
	fake := &fakeTasks{
		spawn: func(context.Context, string, task.SpawnSpec) (*task.Task, error) {
			return nil, cerr.NewError(cerr.FailedPrecondition, "service is closed", nil)
		},
	}
	res := newTools(fake).Task(context.Background(), "ws", tools.TaskArgs{Prompt: "x"})
	assert.Equal(t, &tools.TaskResult{Error: "service is closed"}, res)
}

func TestTaskList(t *testing.T) {
	var gotStatuses []task.Status
	fake := &fakeTasks{
		list: func(_ string, statuses []task.Status) []*task.TaskView {
			gotStatuses = statuses
			return nil
		},
	}
	tl := newTools(fake)

	res := tl.TaskList("ws", tools.TaskListArgs{})
	require.True(t, res.Success)
	assert.NotNil(t, res.Tasks)
	assert.Equal(t, []task.Status{"queued", "running", "awaiting_report"}, gotStatuses)

	res = tl.TaskList("ws", tools.TaskListArgs{Statuses: []string{"completed", "completed", "terminated"}})
	require.True(t, res.Success)
	assert.Equal(t, []task.Status{"completed", "terminated"}, gotStatuses)

	res = tl.TaskList("ws", tools.TaskListArgs{Statuses: []string{"sleeping"}})
	assert.False(t, res.Success)
	assert.Equal(t, `unknown status "sleeping"`, res.Error)
}
