// Package bgprocess tracks shell processes started by workspaces and whether
// each is attached to the current turn (foreground) or detached (background).
package bgprocess

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/clog"
)

const DefaultTerminateGrace = 3 * time.Second

type RuntimeResolver interface {
	Runtime(workspaceID string) (runtime.Runtime, error)
}

type entry struct {
	proc   Process
	handle runtime.Process
}

type workspaceState struct {
	procs      map[string]*entry
	order      []string
	foreground map[string]struct{}
	seq        uint64
}

type Registry struct {
	runtimes RuntimeResolver
	bus      *eventbus.Bus[*Snapshot]
	grace    time.Duration

	mu         sync.RWMutex
	workspaces map[string]*workspaceState
}

func NewRegistry(runtimes RuntimeResolver, bus *eventbus.Bus[*Snapshot]) *Registry {
	return &Registry{
		runtimes:   runtimes,
		bus:        bus,
		grace:      DefaultTerminateGrace,
		workspaces: make(map[string]*workspaceState),
	}
}

func (r *Registry) SetTerminateGrace(d time.Duration) {
	r.grace = d
}

func (r *Registry) state(workspaceID string) *workspaceState {
	st, ok := r.workspaces[workspaceID]
	if !ok {
		st = &workspaceState{
			procs:      make(map[string]*entry),
			foreground: make(map[string]struct{}),
		}
		r.workspaces[workspaceID] = st
	}
	return st
}

func (r *Registry) Spawn(ctx context.Context, workspaceID string, req SpawnRequest) (*Process, error) {
	if workspaceID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "workspace id is required", nil)
	}
	if req.Script == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "script is required", nil)
	}
	rt, err := r.runtimes.Runtime(workspaceID)
	if err != nil {
		return nil, err
	}
	handle, err := rt.Start(ctx, req.Script, runtime.StartOptions{Env: req.Env})
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	r.mu.Lock()
	st := r.state(workspaceID)
	e := &entry{
		proc: Process{
			ID:          id,
			PID:         handle.PID(),
			Script:      req.Script,
			DisplayName: req.DisplayName,
			StartTime:   time.Now().UnixMilli(),
			Status:      StatusRunning,
			ToolCallID:  req.ToolCallID,
		},
		handle: handle,
	}
	st.procs[id] = e
	st.order = append(st.order, id)
	if req.Foreground && req.ToolCallID != "" {
		st.foreground[req.ToolCallID] = struct{}{}
	}
	proc := r.view(st, e)
	r.publishLocked(workspaceID, st)
	r.mu.Unlock()

	clog.AddAttributes(ctx, map[string]any{"process_id": id, "pid": proc.PID})
	go r.watch(workspaceID, id, handle)
	return proc, nil
}

func (r *Registry) watch(workspaceID, id string, handle runtime.Process) {
	<-handle.Done()
	code, _ := handle.ExitCode()
	r.markExited(workspaceID, id, code)
}

func (r *Registry) markExited(workspaceID, id string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workspaces[workspaceID]
	if !ok {
		return
	}
	e, ok := st.procs[id]
	if !ok || e.proc.Status == StatusExited {
		return
	}
	e.proc.Status = StatusExited
	e.proc.ExitCode = &code
	r.publishLocked(workspaceID, st)
}

func (r *Registry) view(st *workspaceState, e *entry) *Process {
	p := e.proc
	_, p.Foreground = st.foreground[p.ToolCallID]
	p.Foreground = p.Foreground && p.ToolCallID != ""
	return &p
}

func (r *Registry) snapshotLocked(workspaceID string, st *workspaceState) *Snapshot {
	snap := &Snapshot{WorkspaceID: workspaceID, Seq: st.seq, Processes: make([]*Process, 0, len(st.order))}
	for _, id := range st.order {
		snap.Processes = append(snap.Processes, r.view(st, st.procs[id]))
	}
	return snap
}

// publishLocked must run under r.mu so snapshots leave in change order.
func (r *Registry) publishLocked(workspaceID string, st *workspaceState) {
	st.seq++
	r.bus.Publish(workspaceID, r.snapshotLocked(workspaceID, st))
}

func (r *Registry) List(workspaceID string, runningOnly bool) []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.workspaces[workspaceID]
	if !ok {
		return nil
	}
	var out []*Process
	for _, id := range st.order {
		e := st.procs[id]
		if runningOnly && e.proc.Status != StatusRunning {
			continue
		}
		out = append(out, r.view(st, e))
	}
	return out
}

// Snapshot returns the current state of workspaceID, for subscribers that
// need a starting point before the first push.
func (r *Registry) Snapshot(workspaceID string) *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.workspaces[workspaceID]
	if !ok {
		return &Snapshot{WorkspaceID: workspaceID, Processes: []*Process{}}
	}
	return r.snapshotLocked(workspaceID, st)
}

// Output returns the retained output tail of a process.
func (r *Registry) Output(workspaceID, processID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookupLocked(workspaceID, processID)
	if err != nil {
		return "", err
	}
	return e.handle.Output(), nil
}

func (r *Registry) lookupLocked(workspaceID, processID string) (*entry, error) {
	if st, ok := r.workspaces[workspaceID]; ok {
		if e, ok := st.procs[processID]; ok {
			return e, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("process %s not found", processID), nil)
}

// SendToBackground detaches toolCallID's process from the current turn.
// Calling it for a process that is already in the background succeeds.
func (r *Registry) SendToBackground(ctx context.Context, workspaceID, toolCallID string) error {
	if workspaceID == "" {
		return cerr.NewError(cerr.InvalidArgument, "workspace id is required", nil)
	}
	if toolCallID == "" {
		return cerr.NewError(cerr.InvalidArgument, "tool call id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workspaces[workspaceID]
	if !ok {
		return nil
	}
	if _, ok := st.foreground[toolCallID]; !ok {
		return nil
	}
	delete(st.foreground, toolCallID)
	r.publishLocked(workspaceID, st)
	slog.DebugContext(ctx, "process sent to background", "workspace_id", workspaceID, "tool_call_id", toolCallID)
	return nil
}

// Terminate stops a process. Unknown ids are NotFound; exited processes
// succeed without doing anything.
func (r *Registry) Terminate(ctx context.Context, workspaceID, processID string) error {
	r.mu.RLock()
	e, err := r.lookupLocked(workspaceID, processID)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	exited := e.proc.Status == StatusExited
	handle := e.handle
	r.mu.RUnlock()
	if exited {
		return nil
	}

	if err := handle.Terminate(ctx, r.grace); err != nil {
		return cerr.NewError(cerr.Internal, "failed to terminate process", err)
	}
	code, _ := handle.ExitCode()
	r.markExited(workspaceID, processID, code)
	return nil
}

// OnMessageSent moves every foreground process to the background. Failures
// are logged and never returned.
func (r *Registry) OnMessageSent(ctx context.Context, workspaceID string) {
	r.mu.RLock()
	var toolCallIDs []string
	if st, ok := r.workspaces[workspaceID]; ok {
		for id := range st.foreground {
			toolCallIDs = append(toolCallIDs, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range toolCallIDs {
		if err := r.SendToBackground(ctx, workspaceID, id); err != nil {
			slog.WarnContext(ctx, "failed to background process", "workspace_id", workspaceID, "tool_call_id", id, "error", err)
		}
	}
}

func (r *Registry) Subscribe(workspaceID string) (string, <-chan *Snapshot) {
	return r.bus.Subscribe(workspaceID)
}

func (r *Registry) Unsubscribe(id string) {
	r.bus.Unsubscribe(id)
}

// RemoveWorkspace terminates the workspace's running processes and forgets it.
func (r *Registry) RemoveWorkspace(ctx context.Context, workspaceID string) {
	for _, p := range r.List(workspaceID, true) {
		if err := r.Terminate(ctx, workspaceID, p.ID); err != nil {
			slog.WarnContext(ctx, "failed to terminate process", "workspace_id", workspaceID, "process_id", p.ID, "error", err)
		}
	}
	r.mu.Lock()
	delete(r.workspaces, workspaceID)
	r.mu.Unlock()
	r.bus.CloseKey(workspaceID)
}
