package bgprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
)

type resolverFunc func(string) (runtime.Runtime, error)

func (f resolverFunc) Runtime(id string) (runtime.Runtime, error) { return f(id) }

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	r := NewRegistry(resolverFunc(func(string) (runtime.Runtime, error) {
		return runtime.NewLocal(dir), nil
	}), eventbus.New[*Snapshot](1))
	r.SetTerminateGrace(500 * time.Millisecond)
	return r
}

func TestRegistry_SpawnListTerminate(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	p, err := r.Spawn(ctx, "ws", SpawnRequest{Script: "sleep 30", ToolCallID: "call-1", Foreground: true})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, p.Status)
	assert.True(t, p.Foreground)

	running := r.List("ws", true)
	require.Len(t, running, 1)
	assert.Equal(t, p.ID, running[0].ID)

	require.NoError(t, r.Terminate(ctx, "ws", p.ID))
	assert.Empty(t, r.List("ws", true))
	all := r.List("ws", false)
	require.Len(t, all, 1)
	assert.Equal(t, StatusExited, all[0].Status)
	require.NotNil(t, all[0].ExitCode)

	// Terminating an exited process is a no-op success.
	require.NoError(t, r.Terminate(ctx, "ws", p.ID))
}

func TestRegistry_TerminateUnknown(t *testing.T) {
	r := newRegistry(t)
	err := r.Terminate(context.Background(), "ws", "nope")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestRegistry_ExitIsObserved(t *testing.T) {
	r := newRegistry(t)
	p, err := r.Spawn(context.Background(), "ws", SpawnRequest{Script: "echo done; exit 2"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(r.List("ws", true)) == 0
	}, 5*time.Second, 10*time.Millisecond)
	got := r.List("ws", false)[0]
	assert.Equal(t, 2, *got.ExitCode)

	out, err := r.Output("ws", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "done\n", out)
}

func TestRegistry_SendToBackground(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	p, err := r.Spawn(ctx, "ws", SpawnRequest{Script: "sleep 30", ToolCallID: "call-1", Foreground: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Terminate(ctx, "ws", p.ID) })

	tests := []struct {
		name       string
		ws, callID string
		wantCode   cerr.Code
	}{
		{name: "moves to background", ws: "ws", callID: "call-1", wantCode: cerr.OK},
		{name: "idempotent", ws: "ws", callID: "call-1", wantCode: cerr.OK},
		{name: "unknown call id", ws: "ws", callID: "call-9", wantCode: cerr.OK},
		{name: "missing workspace", ws: "", callID: "call-1", wantCode: cerr.InvalidArgument},
		{name: "missing call id", ws: "ws", callID: "", wantCode: cerr.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.SendToBackground(ctx, tt.ws, tt.callID)
			assert.Equal(t, tt.wantCode, cerr.CodeOf(err))
		})
	}
	assert.False(t, r.List("ws", true)[0].Foreground)
}

func TestRegistry_OnMessageSent(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	for _, id := range []string{"a", "b"} {
		p, err := r.Spawn(ctx, "ws", SpawnRequest{Script: "sleep 30", ToolCallID: id, Foreground: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Terminate(ctx, "ws", p.ID) })
	}

	r.OnMessageSent(ctx, "ws")
	for _, p := range r.List("ws", true) {
		assert.False(t, p.Foreground, p.ToolCallID)
	}
	// No foreground processes left; calling again is harmless.
	r.OnMessageSent(ctx, "ws")
	r.OnMessageSent(ctx, "unknown")
}

func TestRegistry_SubscriptionSeesLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	_, ch := r.Subscribe("ws")

	p, err := r.Spawn(ctx, "ws", SpawnRequest{Script: "sleep 30", ToolCallID: "c", Foreground: true})
	require.NoError(t, err)
	require.NoError(t, r.SendToBackground(ctx, "ws", "c"))
	require.NoError(t, r.Terminate(ctx, "ws", p.ID))

	snap := <-ch
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, StatusExited, snap.Processes[0].Status)
	assert.False(t, snap.Processes[0].Foreground)
	assert.Equal(t, r.Snapshot("ws").Seq, snap.Seq)
}

func TestRegistry_RemoveWorkspace(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	id, ch := r.Subscribe("ws")
	defer r.Unsubscribe(id)
	_, err := r.Spawn(ctx, "ws", SpawnRequest{Script: "sleep 30"})
	require.NoError(t, err)

	r.RemoveWorkspace(ctx, "ws")
	assert.Empty(t, r.List("ws", false))
	for range ch {
	}
}
