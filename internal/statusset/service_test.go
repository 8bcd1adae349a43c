package statusset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

type resolverFunc func(string) (runtime.Runtime, error)

func (f resolverFunc) Runtime(id string) (runtime.Runtime, error) { return f(id) }

type fixture struct {
	svc   *Service
	store *storage.LocalStorage
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	rt := runtime.NewLocal(dir)
	svc := NewService(
		resolverFunc(func(string) (runtime.Runtime, error) { return rt, nil }),
		store,
		mutexmap.New[string](),
		eventbus.New[*Update](8),
	)
	svc.minPoll = 10 * time.Millisecond
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: store, dir: dir}
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *Status
		wantErr bool
	}{
		{name: "json", in: `{"emoji":"🚀","message":"deploying","url":"https://ci/1"}`, want: &Status{Emoji: "🚀", Message: "deploying", URL: "https://ci/1"}},
		{name: "plain first line", in: "\n  building  \nmore", want: &Status{Message: "building"}},
		{name: "json without message", in: `{"emoji":"x"}`, wantErr: true},
		{name: "empty", in: "  \n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOutput(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_SetPersistsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subID, ch := f.svc.Subscribe("ws")
	defer f.svc.Unsubscribe(subID)

	status, err := f.svc.Set(ctx, "ws", `echo '{"message":"green"}'`, 0)
	require.NoError(t, err)
	assert.Equal(t, &Status{Message: "green"}, status)

	select {
	case u := <-ch:
		assert.Equal(t, "green", u.Status.Message)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	rec, err := storage.ReadJSON[Record](ctx, f.store, StatusPath("ws"))
	require.NoError(t, err)
	assert.Equal(t, "green", rec.Status.Message)
}

func TestService_SetErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ws     string
		script string
		code   cerr.Code
	}{
		{name: "missing workspace", script: "echo hi", code: cerr.InvalidArgument},
		{name: "missing script", ws: "ws", code: cerr.InvalidArgument},
		{name: "script fails", ws: "ws", script: "echo nope >&2; exit 3", code: cerr.Internal},
		{name: "no output", ws: "ws", script: "true", code: cerr.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Set(ctx, tt.ws, tt.script, 0)
			assert.True(t, cerr.IsCode(err, tt.code), "got %v", err)
		})
	}
	_, ok := f.svc.Get("ws")
	assert.False(t, ok)
}

func TestService_Polls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	counter := filepath.Join(f.dir, "n")
	script := `n=$(cat n 2>/dev/null || echo 0); n=$((n+1)); echo $n > n; echo "run $n"`

	_, err := f.svc.Set(ctx, "ws", script, time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, ok := f.svc.Get("ws")
		return ok && rec.Status.Message != "run 1"
	}, 2*time.Second, 5*time.Millisecond)

	f.svc.Close()
	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.NotEqual(t, "1\n", string(data))
}

func TestService_RehydrateDoesNotRunScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, storage.WriteJSON(ctx, f.store, StatusPath("ws"), &Record{
		Script: "touch ran; echo fresh",
		Status: &Status{Emoji: "✅", Message: "stored"},
	}))

	require.NoError(t, f.svc.Rehydrate(ctx, []string{"ws", "other"}))
	rec, ok := f.svc.Get("ws")
	require.True(t, ok)
	assert.Equal(t, "stored", rec.Status.Message)
	assert.NoFileExists(t, filepath.Join(f.dir, "ran"))
	_, ok = f.svc.Get("other")
	assert.False(t, ok)
}

func TestService_Clear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Set(ctx, "ws", "echo hi", 0)
	require.NoError(t, err)

	require.NoError(t, f.svc.Clear(ctx, "ws"))
	_, ok := f.svc.Get("ws")
	assert.False(t, ok)
	exists, err := f.store.Exists(ctx, StatusPath("ws"))
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, f.svc.Clear(ctx, "ws"))
}

func TestService_ClearDuringPollLeavesNoStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	marker := filepath.Join(f.dir, "polled")

	_, err := f.svc.Set(ctx, "ws", "touch polled; echo ok", time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, os.Remove(marker))

	// Hold the workspace lock so the next poll result waits to be saved.
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = f.svc.locks.WithLock(ctx, "ws", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cleared := make(chan error, 1)
	go func() { cleared <- f.svc.Clear(ctx, "ws") }()
	require.Eventually(t, func() bool {
		f.svc.mu.Lock()
		defer f.svc.mu.Unlock()
		return len(f.svc.pollers) == 0
	}, time.Second, time.Millisecond)
	close(release)
	require.NoError(t, <-cleared)

	f.svc.Close()
	_, ok := f.svc.Get("ws")
	assert.False(t, ok)
	exists, err := f.store.Exists(ctx, StatusPath("ws"))
	require.NoError(t, err)
	assert.False(t, exists)
}
