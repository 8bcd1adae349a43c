package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/kazz187/taskmux/internal/checkpoint"
	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

const DefaultGateTimeout = 10 * time.Minute

type ImplementRequest struct {
	WorkspaceID string
	Item        ChecklistItem
	Iteration   int
	// Attempt counts tries on this item, starting at 1.
	Attempt int
	// GateFailure is the output tail of the gate that failed last attempt.
	GateFailure string
	// PriorReports are earlier reports kept under the ContextReset strategy.
	PriorReports []string
	// FreshContext asks the implementer not to reuse an earlier session.
	FreshContext bool
}

type ImplementResult struct {
	Report string
}

type Implementer interface {
	Implement(ctx context.Context, req ImplementRequest) (*ImplementResult, error)
}

type Checkpointer interface {
	Checkpoint(ctx context.Context, workspaceID string, opts checkpoint.Options) (*checkpoint.Result, error)
}

type GateResult struct {
	Command    string `json:"command"`
	Passed     bool   `json:"passed"`
	ExitCode   int    `json:"exitCode"`
	TimedOut   bool   `json:"timedOut,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

type IterationResult struct {
	Iteration  int                `json:"iteration"`
	ItemID     string             `json:"itemId"`
	ItemTitle  string             `json:"itemTitle"`
	Report     string             `json:"report,omitempty"`
	Gates      []GateResult       `json:"gates"`
	Passed     bool               `json:"passed"`
	Checkpoint *checkpoint.Result `json:"checkpoint,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type StopReason string

const (
	StopCompleted     StopReason = "completed"
	StopMaxIterations StopReason = "max_iterations"
	StopCanceled      StopReason = "canceled"
	StopError         StopReason = "error"
)

type RunResult struct {
	Iterations []IterationResult `json:"iterations"`
	Checklist  []ChecklistItem   `json:"checklist"`
	StopReason StopReason        `json:"stopReason"`
}

type LoopOptions struct {
	WorkspaceID  string
	Config       *Config
	Runtime      runtime.Runtime
	Implementer  Implementer
	Checkpointer Checkpointer
	Policy       *GatePolicy
	Storage      storage.Storage
	Locks        *mutexmap.MutexMap[string]
	// GateTimeout applies when neither the gate nor the loop config set one.
	GateTimeout time.Duration
}

type Loop struct {
	opts    LoopOptions
	cfg     *Config
	pending atomic.Pointer[Config]
	store   *stateStore
	now     func() time.Time
}

func NewLoop(opts LoopOptions) *Loop {
	if opts.Policy == nil {
		opts.Policy = NewGatePolicy()
	}
	if opts.GateTimeout <= 0 {
		opts.GateTimeout = DefaultGateTimeout
	}
	return &Loop{
		opts:  opts,
		cfg:   opts.Config.clone(),
		store: &stateStore{storage: opts.Storage, locks: opts.Locks},
		now:   time.Now,
	}
}

// Run works through the checklist until every item is done, the iteration
// budget runs out, or ctx ends. Cancellation returns the partial result with
// a Canceled error.
func (l *Loop) Run(ctx context.Context) (*RunResult, error) {
	if err := l.checkGates(); err != nil {
		return nil, err
	}
	if err := l.opts.Runtime.Ready(ctx); err != nil {
		return nil, err
	}

	st, err := l.store.load(ctx, l.opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	for i := range l.cfg.Checklist {
		if slices.Contains(st.Done, l.cfg.Checklist[i].ID) {
			l.cfg.Checklist[i].Status = ItemDone
		}
	}

	res := &RunResult{Iterations: []IterationResult{}}
	finish := func(reason StopReason, err error) (*RunResult, error) {
		res.StopReason = reason
		res.Checklist = append([]ChecklistItem(nil), l.cfg.Checklist...)
		st.Running = false
		if perr := l.persist(context.WithoutCancel(ctx), st); perr != nil && err == nil {
			err = perr
		}
		slog.InfoContext(ctx, "harness loop stopped", "workspace_id", l.opts.WorkspaceID,
			"reason", reason, "iterations", len(res.Iterations))
		return res, err
	}

	st.Running = true
	if err := l.persist(ctx, st); err != nil {
		return nil, err
	}

	var (
		reports  []string
		lastItem string
	)
	for ran := 0; ran < l.cfg.Loop.MaxIterations; ran++ {
		if ctx.Err() != nil {
			return finish(StopCanceled, cerr.NewError(cerr.Canceled, "harness loop interrupted", ctx.Err()))
		}
		l.applyPending(ctx, st)
		idx := l.cfg.NextTodo()
		if idx < 0 {
			return finish(StopCompleted, nil)
		}
		item := l.cfg.Checklist[idx]
		st.Iteration++
		st.Attempts[item.ID]++

		if item.ID != lastItem && l.cfg.Loop.ContextReset == ContextResetPerItem {
			reports = nil
		}
		req := ImplementRequest{
			WorkspaceID:  l.opts.WorkspaceID,
			Item:         item,
			Iteration:    st.Iteration,
			Attempt:      st.Attempts[item.ID],
			PriorReports: append([]string(nil), reports...),
			FreshContext: l.freshContext(item.ID, lastItem),
		}
		if st.Attempts[item.ID] > 1 {
			req.GateFailure = st.LastFailure
		}
		lastItem = item.ID

		iter, stop, err := l.iterate(ctx, req, idx, st)
		res.Iterations = append(res.Iterations, iter)
		if iter.Report != "" && l.cfg.Loop.ContextReset != ContextResetPerIteration {
			reports = append(reports, iter.Report)
		}
		if err != nil {
			if ctx.Err() != nil {
				return finish(StopCanceled, cerr.NewError(cerr.Canceled, "harness loop interrupted", errors.Join(err, ctx.Err())))
			}
			if stop {
				return finish(StopError, err)
			}
		}
		if perr := l.persist(ctx, st); perr != nil {
			return finish(StopError, perr)
		}
	}
	if l.cfg.NextTodo() < 0 {
		return finish(StopCompleted, nil)
	}
	return finish(StopMaxIterations, nil)
}

// Reload swaps in cfg before the next iteration starts. Items already
// completed in this run stay done.
func (l *Loop) Reload(cfg *Config) {
	l.pending.Store(cfg.clone())
}

func (l *Loop) applyPending(ctx context.Context, st *State) {
	next := l.pending.Swap(nil)
	if next == nil {
		return
	}
	prev := l.cfg
	l.cfg = next
	if err := l.checkGates(); err != nil {
		l.cfg = prev
		slog.WarnContext(ctx, "ignoring reloaded harness config with unsafe gates", "workspace_id", l.opts.WorkspaceID, "error", err)
		return
	}
	for i := range l.cfg.Checklist {
		if slices.Contains(st.Done, l.cfg.Checklist[i].ID) {
			l.cfg.Checklist[i].Status = ItemDone
		}
	}
	slog.InfoContext(ctx, "harness loop picked up new config", "workspace_id", l.opts.WorkspaceID, "items", len(l.cfg.Checklist))
}

func (l *Loop) freshContext(itemID, lastItem string) bool {
	switch l.cfg.Loop.ContextReset {
	case ContextResetPerIteration:
		return true
	case ContextResetPerItem:
		return itemID != lastItem
	}
	return false
}

// iterate runs one implement-gate-checkpoint cycle. stop reports an error
// that should end the loop rather than just this iteration.
func (l *Loop) iterate(ctx context.Context, req ImplementRequest, idx int, st *State) (IterationResult, bool, error) {
	iter := IterationResult{
		Iteration: req.Iteration,
		ItemID:    req.Item.ID,
		ItemTitle: req.Item.Title,
		Gates:     []GateResult{},
	}
	log := slog.With("workspace_id", l.opts.WorkspaceID, "item_id", req.Item.ID, "iteration", req.Iteration)

	impl, err := l.opts.Implementer.Implement(ctx, req)
	if err != nil {
		iter.Error = cerr.Message(err)
		st.LastFailure = fmt.Sprintf("implementation failed: %s", iter.Error)
		log.WarnContext(ctx, "harness implementation failed", "error", err)
		return iter, false, err
	}
	iter.Report = impl.Report

	for _, gate := range l.cfg.Gates {
		gr, err := l.runGate(ctx, gate)
		if err != nil {
			iter.Error = cerr.Message(err)
			return iter, false, err
		}
		iter.Gates = append(iter.Gates, *gr)
		if !gr.Passed {
			st.LastFailure = fmt.Sprintf("gate %q failed:\n%s", gate.Command, gr.Output)
			log.InfoContext(ctx, "harness gate failed", "command", gate.Command, "exit_code", gr.ExitCode, "timed_out", gr.TimedOut)
			return iter, false, nil
		}
	}

	iter.Passed = true
	st.LastFailure = ""
	l.cfg.Checklist[idx].Status = ItemDone
	if !slices.Contains(st.Done, req.Item.ID) {
		st.Done = append(st.Done, req.Item.ID)
	}
	if err := l.persist(ctx, st); err != nil {
		return iter, true, err
	}

	if l.cfg.Loop.AutoCommit && l.opts.Checkpointer != nil {
		cp, err := l.opts.Checkpointer.Checkpoint(ctx, l.opts.WorkspaceID, checkpoint.Options{
			MessageTemplate: l.cfg.Loop.CommitMessageTemplate,
			ItemTitle:       req.Item.Title,
			Iteration:       req.Iteration,
		})
		if err != nil {
			iter.Error = cerr.Message(err)
			return iter, true, err
		}
		iter.Checkpoint = cp
	}
	log.InfoContext(ctx, "harness item done")
	return iter, false, nil
}

func (l *Loop) gateTimeout(g Gate) time.Duration {
	switch {
	case g.TimeoutSecs != nil && *g.TimeoutSecs > 0:
		return time.Duration(*g.TimeoutSecs) * time.Second
	case l.cfg.Loop.GateTimeoutSecs > 0:
		return time.Duration(l.cfg.Loop.GateTimeoutSecs) * time.Second
	}
	return l.opts.GateTimeout
}

func (l *Loop) runGate(ctx context.Context, g Gate) (*GateResult, error) {
	res, err := l.opts.Runtime.Exec(ctx, g.Command, runtime.ExecOptions{Timeout: l.gateTimeout(g)})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, cerr.NewError(cerr.Internal, fmt.Sprintf("failed to run gate %q", g.Command), err)
	}
	return &GateResult{
		Command:    g.Command,
		Passed:     res.Success(),
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Output:     res.CombinedTail(runtime.OutputBudget),
		DurationMs: res.Duration.Milliseconds(),
	}, nil
}

// checkGates refuses to start when a configured gate fails the policy.
func (l *Loop) checkGates() error {
	var rejections []*GateRejection
	for _, g := range l.cfg.Gates {
		if err := l.opts.Policy.Check(g.Command); err != nil {
			var rej *GateRejection
			if errors.As(err, &rej) {
				rejections = append(rejections, rej)
			}
		}
	}
	if len(rejections) == 0 {
		return nil
	}
	err := cerr.NewError(cerr.FailedPrecondition, "harness config has unsafe gates", rejections[0])
	for _, r := range rejections {
		err.AddDetailMessageWithCode(fmt.Sprintf("%s: %s", r.Command, r.Reason), r.Rule)
	}
	return err
}

func (l *Loop) persist(ctx context.Context, st *State) error {
	st.UpdatedAt = l.now()
	return l.store.save(ctx, l.opts.WorkspaceID, st)
}
