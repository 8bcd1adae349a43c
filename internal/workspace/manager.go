package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/worktree"
)

// RuntimeFactory builds the runtime a workspace's commands run in.
type RuntimeFactory func(w *Workspace) runtime.Runtime

func LocalRuntime(w *Workspace) runtime.Runtime {
	return runtime.NewLocal(w.Dir)
}

// Manager is the in-memory workspace registry, persisted through a Repository.
type Manager struct {
	repo       Repository
	locks      *mutexmap.MutexMap[string]
	newRuntime RuntimeFactory
	// UseWorktrees gives child workspaces their own git worktree when the
	// parent directory is a repository.
	useWorktrees bool

	mu         sync.RWMutex
	workspaces map[string]*Workspace
}

type Option func(*Manager)

func WithRuntimeFactory(f RuntimeFactory) Option {
	return func(m *Manager) { m.newRuntime = f }
}

func WithWorktrees(enabled bool) Option {
	return func(m *Manager) { m.useWorktrees = enabled }
}

func NewManager(repo Repository, locks *mutexmap.MutexMap[string], opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		locks:        locks,
		newRuntime:   LocalRuntime,
		useWorktrees: true,
		workspaces:   make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads every persisted workspace into memory.
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.repo.List(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range all {
		m.workspaces[w.ID] = w
	}
	slog.InfoContext(ctx, "workspaces loaded", "count", len(all))
	return nil
}

// Open returns the root workspace for dir, registering it on first use.
func (m *Manager) Open(ctx context.Context, name, dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid workspace dir", err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	m.mu.RLock()
	for _, w := range m.workspaces {
		if w.IsRoot() && w.Dir == abs && w.Name == name {
			m.mu.RUnlock()
			return w, nil
		}
	}
	m.mu.RUnlock()

	now := time.Now()
	w := &Workspace{
		ID:        ulid.Make().String(),
		Name:      name,
		Dir:       abs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.create(ctx, w); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "workspace registered", "workspace_id", w.ID, "dir", w.Dir)
	return w, nil
}

// CreateChild registers a child workspace with the given id under parentID.
func (m *Manager) CreateChild(ctx context.Context, parentID, id, name string) (*Workspace, error) {
	parent, ok := m.Get(parentID)
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "parent workspace not found", nil)
	}
	if existing, ok := m.Get(id); ok {
		return existing, nil
	}

	now := time.Now()
	w := &Workspace{
		ID:        id,
		ParentID:  parentID,
		Name:      name,
		Dir:       parent.Dir,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.useWorktrees && worktree.IsRepo(ctx, parent.Dir) {
		wt, err := worktree.NewManager(parent.Dir)
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "failed to prepare worktrees", err)
		}
		dir, err := wt.CreateWorktree(ctx, id)
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "failed to create worktree", err)
		}
		w.Dir = dir
		w.Worktree = true
	}
	if err := m.create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (m *Manager) create(ctx context.Context, w *Workspace) error {
	err := m.locks.WithLock(ctx, w.ID, func(ctx context.Context) error {
		return m.repo.Create(ctx, w)
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.workspaces[w.ID] = w
	m.mu.Unlock()
	return nil
}

func (m *Manager) Get(id string) (*Workspace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workspaces[id]
	return w, ok
}

func (m *Manager) List() []*Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Workspace, 0, len(m.workspaces))
	for _, w := range m.workspaces {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Runtime resolves the runtime of workspace id.
func (m *Manager) Runtime(id string) (runtime.Runtime, error) {
	w, ok := m.Get(id)
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("workspace %s not found", id), nil)
	}
	return m.newRuntime(w), nil
}

// Remove deletes workspace id, its worktree and its record. Children are not
// touched; callers remove them first.
func (m *Manager) Remove(ctx context.Context, id string) error {
	w, ok := m.Get(id)
	if !ok {
		return cerr.NewError(cerr.NotFound, "workspace not found", nil)
	}
	if w.Worktree {
		if parent, ok := m.Get(w.ParentID); ok {
			wt, err := worktree.NewManager(parent.Dir)
			if err == nil {
				err = wt.RemoveWorktree(ctx, id)
			}
			if err != nil {
				slog.WarnContext(ctx, "failed to remove worktree", "workspace_id", id, "error", err)
			}
		}
	}
	err := m.locks.WithLock(ctx, id, func(ctx context.Context) error {
		return m.repo.Delete(ctx, id)
	})
	if err != nil && !cerr.IsCode(err, cerr.NotFound) {
		return err
	}
	m.mu.Lock()
	delete(m.workspaces, id)
	m.mu.Unlock()
	return nil
}
