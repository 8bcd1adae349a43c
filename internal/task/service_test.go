package task_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/task/repositoryimpl"
	"github.com/kazz187/taskmux/internal/workspace"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

type fakeWorkspaces struct {
	mu      sync.Mutex
	ws      map[string]*workspace.Workspace
	removed []string
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{ws: make(map[string]*workspace.Workspace)}
}

func (f *fakeWorkspaces) CreateChild(_ context.Context, parentID, id, name string) (*workspace.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &workspace.Workspace{ID: id, ParentID: parentID, Name: name, Dir: "/work/" + id}
	f.ws[id] = w
	return w, nil
}

func (f *fakeWorkspaces) Get(id string) (*workspace.Workspace, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.ws[id]
	return w, ok
}

func (f *fakeWorkspaces) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ws[id]; !ok {
		return cerr.NewError(cerr.NotFound, "workspace not found", nil)
	}
	delete(f.ws, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeWorkspaces) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// blockingRunner holds every task until the test releases it.
type blockingRunner struct {
	mu      sync.Mutex
	results map[string]chan *task.RunResult
	calls   []task.RunRequest
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{results: make(map[string]chan *task.RunResult)}
}

func (r *blockingRunner) ch(id string) chan *task.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.results[id]
	if !ok {
		c = make(chan *task.RunResult, 4)
		r.results[id] = c
	}
	return c
}

func (r *blockingRunner) Run(ctx context.Context, req task.RunRequest) (*task.RunResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	select {
	case res := <-r.ch(req.TaskID):
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *blockingRunner) release(id string, res *task.RunResult) {
	r.ch(id) <- res
}

func (r *blockingRunner) Calls() []task.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]task.RunRequest(nil), r.calls...)
}

type fixture struct {
	svc        *task.Service
	workspaces *fakeWorkspaces
	storage    storage.Storage
	bus        *eventbus.Bus[*task.Event]
}

func newFixture(t *testing.T, runner task.Runner, cfg task.Config) *fixture {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return newFixtureWithStorage(t, runner, cfg, s)
}

func newFixtureWithStorage(t *testing.T, runner task.Runner, cfg task.Config, s storage.Storage) *fixture {
	t.Helper()
	f := &fixture{
		workspaces: newFakeWorkspaces(),
		storage:    s,
		bus:        eventbus.New[*task.Event](32),
	}
	f.svc = task.NewService(repositoryimpl.NewYAMLRepository(s), f.workspaces, runner, f.bus, mutexmap.New[string](), cfg)
	t.Cleanup(f.svc.Close)
	return f
}

func waitStatus(t *testing.T, svc *task.Service, id string, want task.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := svc.Get(id)
		return ok && got.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
}

func TestService_ScopeInvariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newBlockingRunner(), task.Config{MaxParallel: 4})

	parent, err := f.svc.Spawn(ctx, "ws-main", task.SpawnSpec{Prompt: "do things"})
	require.NoError(t, err)
	// The task spawns its own sub-task from its child workspace.
	child, err := f.svc.Spawn(ctx, parent.WorkspaceID(), task.SpawnSpec{Prompt: "sub things"})
	require.NoError(t, err)
	sibling, err := f.svc.Spawn(ctx, "ws-other", task.SpawnSpec{Prompt: "unrelated"})
	require.NoError(t, err)

	tests := []struct {
		ancestor string
		taskID   string
		want     bool
	}{
		{"ws-main", parent.ID, true},
		{"ws-main", child.ID, true},
		{parent.ID, child.ID, true},
		{"ws-other", parent.ID, false},
		{"ws-other", child.ID, false},
		{"ws-main", sibling.ID, false},
		{child.ID, parent.ID, false},
		{parent.ID, parent.ID, false},
		{"ws-main", "missing", false},
		{"", parent.ID, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.svc.IsDescendantTask(tt.ancestor, tt.taskID), "%s -> %s", tt.ancestor, tt.taskID)
	}

	ids := []string{sibling.ID, child.ID, "missing", parent.ID}
	assert.Equal(t, []string{child.ID, parent.ID}, f.svc.FilterDescendantTaskIDs("ws-main", ids))
	assert.Equal(t, []string{sibling.ID}, f.svc.FilterDescendantTaskIDs("ws-other", ids))
	assert.Empty(t, f.svc.FilterDescendantTaskIDs("ws-nobody", ids))

	assert.Equal(t, []string{parent.ID, child.ID}, f.svc.ListActiveDescendantTaskIDs("ws-main"))
	views := f.svc.ListDescendantTasks("ws-main", nil)
	require.Len(t, views, 2)
	assert.Equal(t, 1, views[0].Depth)
	assert.Equal(t, 2, views[1].Depth)
}

func TestService_WaitTimeoutVersusCompletion(t *testing.T) {
	ctx := context.Background()
	runner := task.RunnerFunc(func(ctx context.Context, req task.RunRequest) (*task.RunResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return &task.RunResult{ReportMarkdown: "# Done\nall good", ReportTitle: "Done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	f := newFixture(t, runner, task.Config{MaxParallel: 2})

	slow, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "slow"})
	require.NoError(t, err)
	_, err = f.svc.WaitForReport(ctx, slow.ID, task.WaitOptions{Timeout: 50 * time.Millisecond})
	var timeoutErr *task.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, task.StatusRunning, timeoutErr.Status)
	assert.True(t, cerr.IsCode(err, cerr.DeadlineExceeded))

	patient, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "patient"})
	require.NoError(t, err)
	report, err := f.svc.WaitForReport(ctx, patient.ID, task.WaitOptions{Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "Done", report.Title)
	assert.Equal(t, "# Done\nall good", report.ReportMarkdown)

	// The timed-out wait did not hurt the first task.
	report, err = f.svc.WaitForReport(ctx, slow.ID, task.WaitOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, slow.ID, report.TaskID)
}

func TestService_WaitOutcomes(t *testing.T) {
	runner := newBlockingRunner()
	f := newFixture(t, runner, task.Config{MaxParallel: 4})
	ctx := context.Background()

	t.Run("interrupted", func(t *testing.T) {
		tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "p"})
		require.NoError(t, err)
		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err = f.svc.WaitForReport(waitCtx, tk.ID, task.WaitOptions{})
		require.ErrorIs(t, err, task.ErrInterrupted)
		assert.True(t, cerr.IsCode(err, cerr.Canceled))

		got, _ := f.svc.Get(tk.ID)
		assert.Equal(t, task.StatusRunning, got.Status)
	})

	t.Run("terminated mid-wait", func(t *testing.T) {
		tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "p"})
		require.NoError(t, err)
		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = f.svc.TerminateDescendantTask(ctx, "ws", tk.ID)
		}()
		_, err = f.svc.WaitForReport(ctx, tk.ID, task.WaitOptions{Timeout: 5 * time.Second})
		var statusErr *task.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, task.StatusTerminated, statusErr.Status)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.svc.WaitForReport(ctx, "nope", task.WaitOptions{})
		var statusErr *task.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, task.StatusNotFound, statusErr.Status)
		assert.True(t, cerr.IsCode(err, cerr.NotFound))
	})

	t.Run("out of scope", func(t *testing.T) {
		tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "p"})
		require.NoError(t, err)
		_, err = f.svc.WaitForReport(ctx, tk.ID, task.WaitOptions{RequestingWorkspaceID: "ws-other"})
		assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("already completed", func(t *testing.T) {
		tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Title: "T", Prompt: "p"})
		require.NoError(t, err)
		require.NoError(t, f.svc.SubmitReport(ctx, tk.ID, "report", ""))
		report, err := f.svc.WaitForReport(ctx, tk.ID, task.WaitOptions{RequestingWorkspaceID: "ws"})
		require.NoError(t, err)
		assert.Equal(t, "T", report.Title)

		err = f.svc.SubmitReport(ctx, tk.ID, "again", "")
		assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	})
}

func TestService_TerminateCascade(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	f := newFixture(t, runner, task.Config{MaxParallel: 8})

	top, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "top"})
	require.NoError(t, err)
	mid, err := f.svc.Spawn(ctx, top.WorkspaceID(), task.SpawnSpec{Prompt: "mid"})
	require.NoError(t, err)
	leaf, err := f.svc.Spawn(ctx, mid.WorkspaceID(), task.SpawnSpec{Prompt: "leaf"})
	require.NoError(t, err)
	done, err := f.svc.Spawn(ctx, top.WorkspaceID(), task.SpawnSpec{Prompt: "done"})
	require.NoError(t, err)
	runner.release(done.ID, &task.RunResult{ReportMarkdown: "ok"})
	waitStatus(t, f.svc, done.ID, task.StatusCompleted)

	_, err = f.svc.TerminateDescendantTask(ctx, "ws", "missing")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = f.svc.TerminateDescendantTask(ctx, "ws-other", top.ID)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	_, err = f.svc.TerminateDescendantTask(ctx, leaf.ID, top.ID)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	stopped, err := f.svc.TerminateDescendantTask(ctx, "ws", top.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{leaf.ID, mid.ID, top.ID}, stopped)

	for _, id := range stopped {
		got, ok := f.svc.Get(id)
		require.True(t, ok)
		assert.Equal(t, task.StatusTerminated, got.Status)
	}
	got, _ := f.svc.Get(done.ID)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.ElementsMatch(t, stopped, f.workspaces.Removed())

	// Terminated tasks lose their persisted record.
	exists, err := f.storage.Exists(ctx, "ws/tasks/"+top.ID+".yaml")
	require.NoError(t, err)
	assert.False(t, exists)

	again, err := f.svc.TerminateDescendantTask(ctx, "ws", top.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// slowExitRunner runs until cancelled and then takes exitDelay to return.
type slowExitRunner struct {
	exitDelay time.Duration
}

func (r slowExitRunner) Run(ctx context.Context, _ task.RunRequest) (*task.RunResult, error) {
	<-ctx.Done()
	time.Sleep(r.exitDelay)
	return nil, ctx.Err()
}

func TestService_TerminateOutlivesCallerContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, slowExitRunner{exitDelay: 200 * time.Millisecond}, task.Config{MaxParallel: 4})

	top, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "top"})
	require.NoError(t, err)
	sub, err := f.svc.Spawn(ctx, top.WorkspaceID(), task.SpawnSpec{Prompt: "sub"})
	require.NoError(t, err)
	waitStatus(t, f.svc, top.ID, task.StatusRunning)
	waitStatus(t, f.svc, sub.ID, task.StatusRunning)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.TerminateDescendantTask(short, "ws", top.ID)
	assert.True(t, cerr.IsCode(err, cerr.Internal))

	for _, tc := range []struct{ id, ws string }{{top.ID, "ws"}, {sub.ID, top.WorkspaceID()}} {
		got, ok := f.svc.Get(tc.id)
		require.True(t, ok)
		assert.Equal(t, task.StatusTerminated, got.Status)
		exists, err := f.storage.Exists(ctx, tc.ws+"/tasks/"+tc.id+".yaml")
		require.NoError(t, err)
		assert.False(t, exists, "terminated task %s is still persisted", tc.id)
	}

	require.Eventually(t, func() bool {
		return len(f.workspaces.Removed()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{top.ID, sub.ID}, f.workspaces.Removed())
}

func TestService_QueueRespectsMaxParallel(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	f := newFixture(t, runner, task.Config{MaxParallel: 1})

	first, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "one"})
	require.NoError(t, err)
	second, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "two"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, first.Status)
	assert.Equal(t, task.StatusQueued, second.Status)

	runner.release(first.ID, &task.RunResult{ReportMarkdown: "done"})
	waitStatus(t, f.svc, second.ID, task.StatusRunning)

	// Terminating a queued task removes it from the queue.
	third, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "three"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, third.Status)
	stopped, err := f.svc.TerminateDescendantTask(ctx, "ws", third.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID}, stopped)

	runner.release(second.ID, &task.RunResult{ReportMarkdown: "done"})
	waitStatus(t, f.svc, second.ID, task.StatusCompleted)
	for _, call := range runner.Calls() {
		assert.NotEqual(t, third.ID, call.TaskID)
	}
}

func TestService_ReportAttempts(t *testing.T) {
	ctx := context.Background()

	t.Run("re-prompt yields report", func(t *testing.T) {
		runner := newBlockingRunner()
		f := newFixture(t, runner, task.Config{MaxParallel: 1, ReportAttempts: 2})
		tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "work"})
		require.NoError(t, err)

		runner.release(tk.ID, &task.RunResult{SessionID: "sess-1"})
		waitStatus(t, f.svc, tk.ID, task.StatusAwaitingReport)
		runner.release(tk.ID, &task.RunResult{SessionID: "sess-1", ReportMarkdown: "late report", ReportTitle: "Late"})
		waitStatus(t, f.svc, tk.ID, task.StatusCompleted)

		got, _ := f.svc.Get(tk.ID)
		assert.Equal(t, 1, got.ReportAttempts)
		assert.Equal(t, "sess-1", got.SessionID)
		calls := runner.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "sess-1", calls[1].SessionID)
		assert.NotEqual(t, "work", calls[1].Prompt)
	})

	t.Run("no report terminates", func(t *testing.T) {
		runner := newBlockingRunner()
		f := newFixture(t, runner, task.Config{MaxParallel: 1, ReportAttempts: 0})
		tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "work"})
		require.NoError(t, err)

		runner.release(tk.ID, &task.RunResult{})
		waitStatus(t, f.svc, tk.ID, task.StatusTerminated)
		got, _ := f.svc.Get(tk.ID)
		assert.Contains(t, got.Error, "without a report")
	})
}

func TestService_RunnerErrorTerminates(t *testing.T) {
	ctx := context.Background()
	runner := task.RunnerFunc(func(context.Context, task.RunRequest) (*task.RunResult, error) {
		return nil, errors.New("cli crashed")
	})
	f := newFixture(t, runner, task.Config{MaxParallel: 1})

	tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "work"})
	require.NoError(t, err)
	waitStatus(t, f.svc, tk.ID, task.StatusTerminated)
	got, _ := f.svc.Get(tk.ID)
	assert.Equal(t, "cli crashed", got.Error)
	require.Eventually(t, func() bool { return len(f.workspaces.Removed()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestService_RestoreRequeuesActiveTasks(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	first := newBlockingRunner()
	f1 := newFixtureWithStorage(t, first, task.Config{MaxParallel: 2}, s)
	active, err := f1.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "keep going"})
	require.NoError(t, err)
	finished, err := f1.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "quick"})
	require.NoError(t, err)
	first.release(active.ID, &task.RunResult{SessionID: "sess-a"})
	waitStatus(t, f1.svc, active.ID, task.StatusAwaitingReport)
	require.NoError(t, f1.svc.SubmitReport(ctx, finished.ID, "quick report", "Quick"))
	f1.svc.Close()

	second := newBlockingRunner()
	f2 := newFixtureWithStorage(t, second, task.Config{MaxParallel: 2}, s)
	for _, id := range []string{active.ID, finished.ID} {
		_, err := f2.workspaces.CreateChild(ctx, "ws", id, id)
		require.NoError(t, err)
	}
	require.NoError(t, f2.svc.Restore(ctx, []string{"ws"}))

	waitStatus(t, f2.svc, active.ID, task.StatusRunning)
	require.Eventually(t, func() bool { return len(second.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	call := second.Calls()[0]
	assert.Equal(t, active.ID, call.TaskID)
	assert.Equal(t, "sess-a", call.SessionID)
	assert.Equal(t, "/work/"+active.ID, call.Dir)

	report, err := f2.svc.WaitForReport(ctx, finished.ID, task.WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "quick report", report.ReportMarkdown)
}

func TestService_RemoveWorkspaceTasks(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	f := newFixture(t, runner, task.Config{MaxParallel: 4})

	top, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "top"})
	require.NoError(t, err)
	sub, err := f.svc.Spawn(ctx, top.WorkspaceID(), task.SpawnSpec{Prompt: "sub"})
	require.NoError(t, err)
	other, err := f.svc.Spawn(ctx, "ws-other", task.SpawnSpec{Prompt: "other"})
	require.NoError(t, err)

	removed := f.svc.RemoveWorkspaceTasks(ctx, "ws")
	assert.ElementsMatch(t, []string{top.ID, sub.ID}, removed)
	_, ok := f.svc.Get(top.ID)
	assert.False(t, ok)
	_, ok = f.svc.Get(other.ID)
	assert.True(t, ok)
}

func TestService_EventsFollowLifecycle(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	f := newFixture(t, runner, task.Config{MaxParallel: 1})
	subID, events := f.svc.Subscribe("ws")
	defer f.svc.Unsubscribe(subID)

	tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "p"})
	require.NoError(t, err)
	runner.release(tk.ID, &task.RunResult{ReportMarkdown: "r"})

	var got []task.EventType
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-events:
			assert.Equal(t, tk.ID, ev.TaskID)
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, []task.EventType{task.EventCreated, task.EventStatusChanged, task.EventCompleted}, got)
}

func TestService_SpawnValidation(t *testing.T) {
	f := newFixture(t, newBlockingRunner(), task.Config{MaxParallel: 1})
	ctx := context.Background()

	_, err := f.svc.Spawn(ctx, "", task.SpawnSpec{Prompt: "p"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	_, err = f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "  "})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	tk, err := f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "Fix the flaky test\nmore details"})
	require.NoError(t, err)
	assert.Equal(t, "Fix the flaky test", tk.Title)

	f.svc.Close()
	_, err = f.svc.Spawn(ctx, "ws", task.SpawnSpec{Prompt: "late"})
	assert.True(t, cerr.IsCode(err, cerr.Unavailable))
}
