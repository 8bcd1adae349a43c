// Package daemon wires the taskmux services together and runs them.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/taskmux/internal/agent"
	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/checkpoint"
	"github.com/kazz187/taskmux/internal/config"
	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/harness"
	"github.com/kazz187/taskmux/internal/notify"
	"github.com/kazz187/taskmux/internal/server"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/internal/task"
	taskrepo "github.com/kazz187/taskmux/internal/task/repositoryimpl"
	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/internal/workspace"
	workspacerepo "github.com/kazz187/taskmux/internal/workspace/repositoryimpl"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

type Daemon struct {
	workspaces *workspace.Manager
	processes  *bgprocess.Registry
	tasks      *task.Service
	status     *statusset.Service
	harness    *harness.Service
	dispatcher *notify.Dispatcher
	server     *server.Server
}

type options struct {
	store      storage.Storage
	runner     task.Runner
	workspaces []workspace.Option
}

type Option func(*options)

// WithStorage replaces the storage selected by the env.
func WithStorage(s storage.Storage) Option {
	return func(o *options) { o.store = s }
}

// WithTaskRunner replaces the claude CLI sub-agent runner.
func WithTaskRunner(r task.Runner) Option {
	return func(o *options) { o.runner = r }
}

func WithWorkspaceOptions(opts ...workspace.Option) Option {
	return func(o *options) { o.workspaces = append(o.workspaces, opts...) }
}

// New builds every service and restores persisted workspaces, tasks and
// status lines.
func New(ctx context.Context, env *config.Env, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		store, err = newStorage(ctx, &env.StorageEnv)
		if err != nil {
			return nil, err
		}
	}
	runner := o.runner
	if runner == nil {
		runner = agent.NewRunner(&env.AgentEnv)
	}

	locks := mutexmap.New[string]()

	workspaces := workspace.NewManager(workspacerepo.NewYAMLRepository(store), locks, o.workspaces...)
	if err := workspaces.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load workspaces: %w", err)
	}

	processes := bgprocess.NewRegistry(workspaces, eventbus.New[*bgprocess.Snapshot](1))
	tasks := task.NewService(
		taskrepo.NewYAMLRepository(store),
		workspaces,
		runner,
		eventbus.New[*task.Event](64),
		locks,
		task.Config{MaxParallel: env.MaxParallelTasks, ReportAttempts: env.ReportAttempts},
	)
	tasks.OnWorkspaceRemoved(processes.RemoveWorkspace)

	checkpoints := checkpoint.NewService(workspaces, store, locks)
	status := statusset.NewService(workspaces, store, locks, eventbus.New[*statusset.Update](8))

	harnessSvc := harness.NewService(workspaces, tasks, checkpoints, store, locks, harness.ServiceConfig{
		GateTimeout:         env.GateTimeout,
		ExtraDeniedCommands: env.ExtraDeniedCommands,
		WatchConfig:         env.WatchConfig,
	})

	subscriptions := notify.NewSubscriptions(store)
	dispatcher := notify.NewDispatcher(tasks, notify.NewSender(&env.VAPIDEnv, subscriptions))

	toolset := tools.New(tasks, tools.Config{
		DefaultAwaitTimeout: env.DefaultAwaitTimeout,
		MaxAwaitTimeout:     env.MaxAwaitTimeout,
	}, tools.WithProcesses(processes), tools.WithStatusSetter(status))

	srv := server.NewServer(env, server.Deps{
		Tools:         toolset,
		Workspaces:    workspaces,
		Tasks:         tasks,
		Processes:     processes,
		Harness:       harnessSvc,
		Checkpoints:   checkpoints,
		Status:        status,
		Subscriptions: subscriptions,
	})

	ids := workspaceIDs(workspaces)
	if err := tasks.Restore(ctx, ids); err != nil {
		return nil, fmt.Errorf("failed to restore tasks: %w", err)
	}
	if err := status.Rehydrate(ctx, ids); err != nil {
		slog.WarnContext(ctx, "failed to rehydrate status lines", "error", err)
	}

	return &Daemon{
		workspaces: workspaces,
		processes:  processes,
		tasks:      tasks,
		status:     status,
		harness:    harnessSvc,
		dispatcher: dispatcher,
		server:     srv,
	}, nil
}

func newStorage(ctx context.Context, env *config.StorageEnv) (storage.Storage, error) {
	switch env.Type {
	case "s3":
		s, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return s, nil
	}
}

func workspaceIDs(m *workspace.Manager) []string {
	var ids []string
	for _, w := range m.List() {
		ids = append(ids, w.ID)
	}
	return ids
}

// Handler serves the daemon's HTTP surface without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// Run serves until ctx is cancelled or the server fails, then shuts every
// service down.
func (d *Daemon) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		err := d.server.ListenAndServe(ctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	p.Go(func(ctx context.Context) error {
		return d.dispatcher.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})
	err := p.Wait()
	d.Close()
	return err
}

// Close stops running tasks, harness loops, status pollers and background
// processes. Active tasks are re-queued by Restore on the next start.
func (d *Daemon) Close() {
	ctx := context.Background()
	for _, w := range d.workspaces.List() {
		d.harness.Stop(w.ID)
	}
	d.tasks.Close()
	d.status.Close()
	for _, w := range d.workspaces.List() {
		d.processes.RemoveWorkspace(ctx, w.ID)
	}
}
