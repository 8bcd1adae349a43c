package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/kazz187/taskmux/pkg/cerr"
)

// FallbackItemTitle is the single item used when a draft has no usable
// checklist.
const FallbackItemTitle = "Implement the plan"

type DroppedGate struct {
	Command string `json:"command"`
	Rule    string `json:"rule"`
	Reason  string `json:"reason"`
}

// Acceptance is the outcome of normalising a proposed config.
type Acceptance struct {
	Config  *Config       `json:"config"`
	Dropped []DroppedGate `json:"dropped,omitempty"`
	// FellBack is set when the draft's checklist was empty or unreadable.
	FellBack bool `json:"fellBack"`
	// ParseError holds why the draft could not be read, if it could not.
	ParseError string `json:"parseError,omitempty"`
}

// Warning describes the dropped gates as a FailedPrecondition error with one
// detail per gate, or nil when nothing was dropped.
func (a *Acceptance) Warning() error {
	if len(a.Dropped) == 0 {
		return nil
	}
	err := cerr.NewError(cerr.FailedPrecondition,
		fmt.Sprintf("%d unsafe gate(s) dropped; auto-commit disabled", len(a.Dropped)), nil)
	for _, d := range a.Dropped {
		err.AddDetailMessageWithCode(fmt.Sprintf("%s: %s", d.Command, d.Reason), d.Rule)
	}
	return err
}

type draftItem struct {
	Title string
}

// UnmarshalJSON accepts either a bare string or an object with a title.
func (d *draftItem) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d.Title = s
		return nil
	}
	var obj struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	d.Title = obj.Title
	return nil
}

type draftGate struct {
	Command     string
	TimeoutSecs *int
}

func (d *draftGate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d.Command = s
		return nil
	}
	var obj struct {
		Command     string `json:"command"`
		TimeoutSecs *int   `json:"timeoutSecs"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	d.Command, d.TimeoutSecs = obj.Command, obj.TimeoutSecs
	return nil
}

type draft struct {
	Checklist []draftItem `json:"checklist"`
	Gates     []draftGate `json:"gates"`
	Loop      LoopConfig  `json:"loop"`
}

func parseDraft(raw []byte) (*draft, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("draft is empty")
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, err
	}
	var d draft
	if err := json.Unmarshal(std, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AcceptDraft turns a proposed config into one that is safe to run. Items
// are renumbered and reset to todo. Gates the policy rejects are dropped,
// and any drop turns auto-commit off. A draft without items falls back to a
// single FallbackItemTitle item with auto-commit off.
func AcceptDraft(raw []byte, policy *GatePolicy) *Acceptance {
	if policy == nil {
		policy = NewGatePolicy()
	}
	acc := &Acceptance{}

	d, err := parseDraft(raw)
	if err != nil {
		acc.ParseError = err.Error()
		d = &draft{}
	}

	cfg := &Config{Gates: []Gate{}, Loop: d.Loop}
	for _, it := range d.Checklist {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		cfg.Checklist = append(cfg.Checklist, ChecklistItem{
			ID:     fmt.Sprintf("item-%d", len(cfg.Checklist)+1),
			Title:  title,
			Status: ItemTodo,
		})
	}
	if len(cfg.Checklist) == 0 {
		acc.FellBack = true
		cfg.Checklist = []ChecklistItem{{ID: "item-1", Title: FallbackItemTitle, Status: ItemTodo}}
		cfg.Loop.AutoCommit = false
	}

	for _, g := range d.Gates {
		cmd := strings.TrimSpace(g.Command)
		if err := policy.Check(cmd); err != nil {
			var rej *GateRejection
			if !errors.As(err, &rej) {
				rej = &GateRejection{Command: cmd, Rule: RuleUnparseable, Reason: err.Error()}
			}
			acc.Dropped = append(acc.Dropped, DroppedGate{Command: cmd, Rule: rej.Rule, Reason: rej.Reason})
			continue
		}
		timeout := g.TimeoutSecs
		if timeout != nil && *timeout <= 0 {
			timeout = nil
		}
		cfg.Gates = append(cfg.Gates, Gate{Command: cmd, TimeoutSecs: timeout})
	}
	if len(acc.Dropped) > 0 {
		cfg.Loop.AutoCommit = false
		slog.Warn("dropped unsafe harness gates", "count", len(acc.Dropped))
	}

	if cfg.Loop.MaxIterations < 0 {
		cfg.Loop.MaxIterations = 0
	}
	if cfg.Loop.GateTimeoutSecs < 0 {
		cfg.Loop.GateTimeoutSecs = 0
	}
	switch cfg.Loop.ContextReset {
	case ContextResetNone, ContextResetPerItem, ContextResetPerIteration:
	default:
		cfg.Loop.ContextReset = ""
	}
	cfg.normalize()
	acc.Config = cfg
	return acc
}
