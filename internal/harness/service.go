package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/internal/workspace"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

type Workspaces interface {
	Get(id string) (*workspace.Workspace, bool)
	Runtime(id string) (runtime.Runtime, error)
}

type ServiceConfig struct {
	GateTimeout         time.Duration
	ExtraDeniedCommands []string
	// WatchConfig hot-reloads the config file into a running loop.
	WatchConfig bool
}

// Service runs at most one loop per workspace.
type Service struct {
	workspaces   Workspaces
	tasks        TaskRunner
	checkpointer Checkpointer
	storage      storage.Storage
	locks        *mutexmap.MutexMap[string]
	policy       *GatePolicy
	cfg          ServiceConfig

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(
	workspaces Workspaces,
	tasks TaskRunner,
	checkpointer Checkpointer,
	s storage.Storage,
	locks *mutexmap.MutexMap[string],
	cfg ServiceConfig,
) *Service {
	return &Service{
		workspaces:   workspaces,
		tasks:        tasks,
		checkpointer: checkpointer,
		storage:      s,
		locks:        locks,
		policy:       NewGatePolicy(cfg.ExtraDeniedCommands...),
		cfg:          cfg,
		running:      make(map[string]context.CancelFunc),
	}
}

func (s *Service) workspace(id string) (*workspace.Workspace, runtime.Runtime, error) {
	ws, ok := s.workspaces.Get(id)
	if !ok {
		return nil, nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("workspace %s not found", id), nil)
	}
	rt, err := s.workspaces.Runtime(id)
	if err != nil {
		return nil, nil, err
	}
	return ws, rt, nil
}

// AcceptDraft turns a planner's draft into the workspace's config file. The
// acceptance is returned even when gates were dropped; callers surface
// Warning to the user.
func (s *Service) AcceptDraft(ctx context.Context, workspaceID string, draft []byte) (*Acceptance, error) {
	ws, rt, err := s.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	acc := AcceptDraft(draft, s.policy)
	if err := acc.Config.Save(ctx, rt, ws.Name); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "harness draft accepted", "workspace_id", workspaceID,
		"items", len(acc.Config.Checklist), "dropped_gates", len(acc.Dropped), "fell_back", acc.FellBack)
	return acc, nil
}

// ValidateWrites checks the paths a planning turn touched.
func (s *Service) ValidateWrites(workspaceID string, touched []string) error {
	ws, ok := s.workspaces.Get(workspaceID)
	if !ok {
		return cerr.NewError(cerr.NotFound, fmt.Sprintf("workspace %s not found", workspaceID), nil)
	}
	return ValidateProposalWrites(ws.Name, touched)
}

func (s *Service) Config(ctx context.Context, workspaceID string) (*Config, error) {
	ws, rt, err := s.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return Load(ctx, rt, ws.Name)
}

// Run drives the workspace's loop to completion. A second Run for the same
// workspace fails with AlreadyExists while the first is active.
func (s *Service) Run(ctx context.Context, workspaceID, agentType string) (*RunResult, error) {
	ws, rt, err := s.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(ctx, rt, ws.Name)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if _, busy := s.running[workspaceID]; busy {
		s.mu.Unlock()
		return nil, cerr.NewError(cerr.AlreadyExists, "harness loop is already running", nil)
	}
	s.running[workspaceID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, workspaceID)
		s.mu.Unlock()
	}()

	loop := NewLoop(LoopOptions{
		WorkspaceID:  workspaceID,
		Config:       cfg,
		Runtime:      rt,
		Implementer:  NewTaskImplementer(s.tasks, agentType),
		Checkpointer: s.checkpointer,
		Policy:       s.policy,
		Storage:      s.storage,
		Locks:        s.locks,
		GateTimeout:  s.cfg.GateTimeout,
	})

	if s.cfg.WatchConfig {
		w := NewWatcher(rt.Dir(), ws.Name, loop.Reload)
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.WarnContext(ctx, "harness config watcher stopped", "workspace_id", workspaceID, "error", err)
			}
		}()
	}
	return loop.Run(ctx)
}

// Stop interrupts a running loop. It reports whether one was running.
func (s *Service) Stop(workspaceID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[workspaceID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Service) State(ctx context.Context, workspaceID string) (*State, error) {
	return LoadState(ctx, s.storage, workspaceID)
}

func (s *Service) ResetState(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	_, busy := s.running[workspaceID]
	s.mu.Unlock()
	if busy {
		return cerr.NewError(cerr.FailedPrecondition, "cannot reset a running harness loop", nil)
	}
	return ResetState(ctx, s.storage, s.locks, workspaceID)
}
