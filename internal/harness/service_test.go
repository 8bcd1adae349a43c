package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/workspace"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

type oneWorkspace struct {
	ws *workspace.Workspace
}

func (o oneWorkspace) Get(id string) (*workspace.Workspace, bool) {
	if id != o.ws.ID {
		return nil, false
	}
	return o.ws, true
}

func (o oneWorkspace) Runtime(string) (runtime.Runtime, error) {
	return runtime.NewLocal(o.ws.Dir), nil
}

type fakeTaskRunner struct {
	mu      sync.Mutex
	spawned []task.SpawnSpec
	// release gates WaitForReport when set.
	release chan struct{}
}

func (f *fakeTaskRunner) Spawn(_ context.Context, _ string, spec task.SpawnSpec) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, spec)
	return &task.Task{ID: fmt.Sprintf("t%d", len(f.spawned)), Status: task.StatusQueued}, nil
}

func (f *fakeTaskRunner) WaitForReport(ctx context.Context, taskID string, _ task.WaitOptions) (*task.Report, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &task.Report{TaskID: taskID, ReportMarkdown: "# done " + taskID}, nil
}

func (f *fakeTaskRunner) TerminateDescendantTask(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func newService(t *testing.T, tasks TaskRunner) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ws := &workspace.Workspace{ID: "ws", Name: "feature", Dir: dir}
	return NewService(oneWorkspace{ws: ws}, tasks, nil, store, mutexmap.New[string](), ServiceConfig{}), dir
}

func TestService_AcceptDraftAndRun(t *testing.T) {
	ctx := context.Background()
	tasks := &fakeTaskRunner{}
	svc, dir := newService(t, tasks)

	acc, err := svc.AcceptDraft(ctx, "ws", []byte(`{"checklist": ["a", "b"], "gates": ["true", "sudo true"]}`))
	require.NoError(t, err)
	require.Len(t, acc.Dropped, 1)
	_, err = os.Stat(filepath.Join(dir, ConfigPath("feature")))
	require.NoError(t, err)

	cfg, err := svc.Config(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, []Gate{{Command: "true"}}, cfg.Gates)

	res, err := svc.Run(ctx, "ws", "general")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, res.StopReason)
	assert.Equal(t, "# done t1", res.Iterations[0].Report)
	require.Len(t, tasks.spawned, 2)
	assert.Equal(t, "general", tasks.spawned[0].AgentType)

	st, err := svc.State(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, []string{"item-1", "item-2"}, st.Done)
	require.NoError(t, svc.ResetState(ctx, "ws"))
	st, err = svc.State(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, st.Done)
}

func TestService_SingleLoopPerWorkspace(t *testing.T) {
	ctx := context.Background()
	tasks := &fakeTaskRunner{release: make(chan struct{})}
	svc, _ := newService(t, tasks)
	_, err := svc.AcceptDraft(ctx, "ws", []byte(`{"checklist": ["a"]}`))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(ctx, "ws", "")
		done <- err
	}()
	require.Eventually(t, func() bool {
		tasks.mu.Lock()
		defer tasks.mu.Unlock()
		return len(tasks.spawned) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = svc.Run(ctx, "ws", "")
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists), "got %v", err)
	assert.True(t, cerr.IsCode(svc.ResetState(ctx, "ws"), cerr.FailedPrecondition))

	assert.True(t, svc.Stop("ws"))
	err = <-done
	assert.True(t, cerr.IsCode(err, cerr.Canceled), "got %v", err)
	assert.False(t, svc.Stop("ws"))
}

func TestService_UnknownWorkspace(t *testing.T) {
	svc, _ := newService(t, &fakeTaskRunner{})
	_, err := svc.Config(context.Background(), "other")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.True(t, cerr.IsCode(svc.ValidateWrites("other", nil), cerr.NotFound))
	assert.NoError(t, svc.ValidateWrites("ws", []string{ConfigPath("feature")}))
}
