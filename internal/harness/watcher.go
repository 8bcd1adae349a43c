package harness

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pmezard/go-difflib/difflib"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a workspace's harness config when the file changes. An
// invalid edit is logged and the last good config is kept.
type Watcher struct {
	path     string
	onChange func(*Config)

	mu      sync.RWMutex
	raw     []byte
	current *Config
}

// NewWatcher reads the config under dir once. A missing or invalid file
// leaves Current nil until a valid version appears.
func NewWatcher(dir, workspaceName string, onChange func(*Config)) *Watcher {
	w := &Watcher{path: filepath.Join(dir, ConfigPath(workspaceName)), onChange: onChange}
	if data, err := os.ReadFile(w.path); err == nil {
		if cfg, err := Parse(data); err == nil {
			w.raw, w.current = data, cfg
		}
	}
	return w
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return nil
	}
	return w.current.clone()
}

// Run watches until ctx ends. The parent directory is watched so editors
// that replace the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	name := filepath.Base(w.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() { w.reload(ctx) })
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "harness config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	if bytes.Equal(data, w.raw) {
		w.mu.Unlock()
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		w.mu.Unlock()
		slog.WarnContext(ctx, "ignoring invalid harness config", "path", w.path, "error", err)
		return
	}
	diff := Diff(w.raw, data, filepath.Base(w.path))
	w.raw, w.current = data, cfg
	w.mu.Unlock()

	slog.InfoContext(ctx, "harness config reloaded", "path", w.path, "diff", diff)
	if w.onChange != nil {
		w.onChange(cfg.clone())
	}
}

// Diff returns a unified diff between two versions of a config file.
func Diff(before, after []byte, name string) string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return out
}
