package harness

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, ConfigPath("feature"))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"checklist": [{"title": "a"}]}`)

	var (
		mu   sync.Mutex
		seen []*Config
	)
	w := NewWatcher(dir, "feature", func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, cfg)
	})
	require.NotNil(t, w.Current())
	assert.Equal(t, "a", w.Current().Checklist[0].Title)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The first write may land before the directory watch is registered.
	require.Eventually(t, func() bool {
		writeConfig(t, dir, `{"checklist": [{"title": "a"}, {"title": "b"}]}`)
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 200*time.Millisecond)
	assert.Len(t, w.Current().Checklist, 2)

	// An invalid edit keeps the last good config.
	writeConfig(t, dir, `{"checklist": [`)
	time.Sleep(4 * reloadDebounce)
	assert.Len(t, w.Current().Checklist, 2)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_MissingFile(t *testing.T) {
	w := NewWatcher(t.TempDir(), "feature", nil)
	assert.Nil(t, w.Current())
}

func TestDiff(t *testing.T) {
	got := Diff([]byte("{\n  \"a\": 1\n}\n"), []byte("{\n  \"a\": 2\n}\n"), "feature.jsonc")
	assert.Contains(t, got, "--- a/feature.jsonc")
	assert.Contains(t, got, "-  \"a\": 1")
	assert.Contains(t, got, "+  \"a\": 2")
	assert.Empty(t, Diff([]byte("same\n"), []byte("same\n"), "x"))
}
