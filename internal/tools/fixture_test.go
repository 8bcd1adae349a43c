package tools_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/task/repositoryimpl"
	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/internal/workspace"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

type memWorkspaces struct {
	mu sync.Mutex
	ws map[string]*workspace.Workspace
}

func (m *memWorkspaces) CreateChild(_ context.Context, parentID, id, name string) (*workspace.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &workspace.Workspace{ID: id, ParentID: parentID, Name: name, Dir: "/work/" + id}
	m.ws[id] = w
	return w, nil
}

func (m *memWorkspaces) Get(id string) (*workspace.Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.ws[id]
	return w, ok
}

func (m *memWorkspaces) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ws, id)
	return nil
}

// reportRunner completes a task with the report sent on its channel, or
// blocks until cancelled.
type reportRunner struct {
	mu      sync.Mutex
	reports map[string]chan string
}

func (r *reportRunner) ch(id string) chan string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reports == nil {
		r.reports = make(map[string]chan string)
	}
	c, ok := r.reports[id]
	if !ok {
		c = make(chan string, 1)
		r.reports[id] = c
	}
	return c
}

func (r *reportRunner) Run(ctx context.Context, req task.RunRequest) (*task.RunResult, error) {
	select {
	case md := <-r.ch(req.TaskID):
		return &task.RunResult{ReportMarkdown: md, ReportTitle: "Report " + req.TaskID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTaskService(t *testing.T, runner task.Runner) *task.Service {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := task.NewService(
		repositoryimpl.NewYAMLRepository(s),
		&memWorkspaces{ws: make(map[string]*workspace.Workspace)},
		runner,
		eventbus.New[*task.Event](16),
		mutexmap.New[string](),
		task.Config{MaxParallel: 8},
	)
	t.Cleanup(svc.Close)
	return svc
}

func spawn(t *testing.T, svc *task.Service, ws string) string {
	t.Helper()
	created, err := svc.Spawn(context.Background(), ws, task.SpawnSpec{Prompt: "work in " + ws})
	require.NoError(t, err)
	return created.ID
}

func newTools(svc tools.TaskService) *tools.Tools {
	return tools.New(svc, tools.Config{DefaultAwaitTimeout: 0, MaxAwaitTimeout: 0})
}

// fakeTasks serves scope checks from inScope/known and delegates the rest to
// optional funcs.
type fakeTasks struct {
	inScope   map[string]bool
	known     map[string]bool
	spawn     func(ctx context.Context, ws string, spec task.SpawnSpec) (*task.Task, error)
	wait      func(ctx context.Context, id string, opts task.WaitOptions) (*task.Report, error)
	terminate func(ctx context.Context, ws, id string) ([]string, error)
	list      func(ws string, statuses []task.Status) []*task.TaskView
}

func (f *fakeTasks) Spawn(ctx context.Context, ws string, spec task.SpawnSpec) (*task.Task, error) {
	return f.spawn(ctx, ws, spec)
}

func (f *fakeTasks) Get(id string) (*task.Task, bool) {
	if f.inScope[id] || f.known[id] {
		return &task.Task{ID: id}, true
	}
	return nil, false
}

func (f *fakeTasks) WaitForReport(ctx context.Context, id string, opts task.WaitOptions) (*task.Report, error) {
	return f.wait(ctx, id, opts)
}

func (f *fakeTasks) ListActiveDescendantTaskIDs(string) []string {
	var out []string
	for id := range f.inScope {
		out = append(out, id)
	}
	return out
}

func (f *fakeTasks) FilterDescendantTaskIDs(_ string, ids []string) []string {
	var out []string
	for _, id := range ids {
		if f.inScope[id] {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeTasks) ListDescendantTasks(ws string, statuses []task.Status) []*task.TaskView {
	return f.list(ws, statuses)
}

func (f *fakeTasks) TerminateDescendantTask(ctx context.Context, ws, id string) ([]string, error) {
	return f.terminate(ctx, ws, id)
}
