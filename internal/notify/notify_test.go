package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/internal/config"
	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/storage"
)

func newSubscriptions(t *testing.T) *Subscriptions {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewSubscriptions(s)
}

// clientKeys returns the p256dh and auth keys a browser would hand out.
func clientKeys(t *testing.T) (string, string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(auth)
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	subs := newSubscriptions(t)

	first, err := subs.Register(ctx, "https://push.example/a", "k1", "a1")
	require.NoError(t, err)
	again, err := subs.Register(ctx, "https://push.example/a", "k2", "a2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = subs.Register(ctx, "https://push.example/b", "k3", "a3")
	require.NoError(t, err)

	all, err := subs.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := subs.FindByEndpoint(ctx, "https://push.example/a")
	require.NoError(t, err)
	assert.Equal(t, "k2", got.P256dhKey)

	require.NoError(t, subs.Unregister(ctx, "https://push.example/a"))
	err = subs.Unregister(ctx, "https://push.example/a")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	_, err = subs.Register(ctx, "", "k", "a")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestSender_RemovesGoneSubscriptions(t *testing.T) {
	ctx := context.Background()
	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	subs := newSubscriptions(t)
	for _, path := range []string{"/live", "/gone"} {
		p256dh, auth := clientKeys(t)
		_, err := subs.Register(ctx, srv.URL+path, p256dh, auth)
		require.NoError(t, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	sender := NewSender(&config.VAPIDEnv{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		VAPIDContact:    "mailto:ops@example.com",
	}, subs, WithHTTPClient(srv.Client()))

	sender.SendToAll(ctx, &Payload{Title: "Task completed", Body: "build"})

	mu.Lock()
	assert.Equal(t, map[string]int{"/live": 1, "/gone": 1}, hits)
	mu.Unlock()
	left, err := subs.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, srv.URL+"/live", left[0].Endpoint)
}

func TestSender_DisabledWithoutKeys(t *testing.T) {
	ctx := context.Background()
	subs := newSubscriptions(t)
	_, err := subs.Register(ctx, "http://127.0.0.1:1/never", "k", "a")
	require.NoError(t, err)

	NewSender(&config.VAPIDEnv{}, subs).SendToAll(ctx, &Payload{Title: "x"})
	all, err := subs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPayloadFor(t *testing.T) {
	tests := []struct {
		name string
		ev   *task.Event
		want *Payload
	}{
		{
			name: "completed",
			ev:   &task.Event{Type: task.EventCompleted, TaskID: "t1", WorkspaceID: "ws", Title: "Refactor"},
			want: &Payload{Title: "Task completed", Body: "Refactor", URL: "/workspaces/ws/tasks/t1", Tag: "t1"},
		},
		{
			name: "terminated with reason",
			ev:   &task.Event{Type: task.EventTerminated, TaskID: "t2", WorkspaceID: "ws", Title: "Lint", Error: "terminated by parent"},
			want: &Payload{Title: "Task terminated", Body: "Lint: terminated by parent", URL: "/workspaces/ws/tasks/t2", Tag: "t2"},
		},
		{
			name: "status change is silent",
			ev:   &task.Event{Type: task.EventStatusChanged, TaskID: "t3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PayloadFor(tt.ev))
		})
	}
}

func TestDispatcher_StopsWithContext(t *testing.T) {
	bus := eventbus.New[*task.Event](16)
	d := NewDispatcher(bus, NewSender(&config.VAPIDEnv{}, newSubscriptions(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish("ws", &task.Event{Type: task.EventCompleted, TaskID: "t1", WorkspaceID: "ws"})
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, bus.SubscriberCount())
}
