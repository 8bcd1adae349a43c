// Package harness drives an unattended checklist loop: implement an item,
// run the gates, checkpoint, repeat.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"

	"github.com/tailscale/hujson"

	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
)

const (
	ConfigDir            = ".mux/harness"
	DefaultMaxIterations = 20
)

type ItemStatus string

const (
	ItemTodo ItemStatus = "todo"
	ItemDone ItemStatus = "done"
)

type ChecklistItem struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status ItemStatus `json:"status"`
}

type Gate struct {
	Command     string `json:"command"`
	TimeoutSecs *int   `json:"timeoutSecs,omitempty"`
}

type ContextReset string

const (
	ContextResetNone         ContextReset = "none"
	ContextResetPerItem      ContextReset = "per_item"
	ContextResetPerIteration ContextReset = "per_iteration"
)

type LoopConfig struct {
	AutoCommit            bool         `json:"autoCommit"`
	CommitMessageTemplate string       `json:"commitMessageTemplate,omitempty"`
	ContextReset          ContextReset `json:"contextReset,omitempty"`
	MaxIterations         int          `json:"maxIterations,omitempty"`
	GateTimeoutSecs       int          `json:"gateTimeoutSecs,omitempty"`
}

type Config struct {
	Checklist []ChecklistItem `json:"checklist"`
	Gates     []Gate          `json:"gates"`
	Loop      LoopConfig      `json:"loop"`
}

var itemIDPattern = regexp.MustCompile(`^item-([1-9][0-9]*)$`)

// ConfigPath is the workspace-relative path of a workspace's harness config.
func ConfigPath(workspaceName string) string {
	return path.Join(ConfigDir, workspaceName+".jsonc")
}

// Parse decodes a JSONC config, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid harness config: %v", err), err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid harness config: %v", err), err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the workspace's config through its runtime.
func Load(ctx context.Context, rt runtime.Runtime, workspaceName string) (*Config, error) {
	data, err := rt.ReadFile(ctx, ConfigPath(workspaceName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("%s not found", ConfigPath(workspaceName)), err)
		}
		return nil, cerr.NewError(cerr.Internal, "failed to read harness config", err)
	}
	return Parse(data)
}

// Marshal renders the config as formatted JSONC.
func (c *Config) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode harness config: %w", err)
	}
	return hujson.Format(data)
}

// Save writes the config to the workspace through its runtime.
func (c *Config) Save(ctx context.Context, rt runtime.Runtime, workspaceName string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := rt.WriteFile(ctx, ConfigPath(workspaceName), data); err != nil {
		return cerr.NewError(cerr.Internal, "failed to write harness config", err)
	}
	return nil
}

// normalize fills missing statuses and ids. New ids continue after the
// highest existing one so ids already handed out never change.
func (c *Config) normalize() {
	next := 1
	for _, it := range c.Checklist {
		if m := itemIDPattern.FindStringSubmatch(it.ID); m != nil {
			if n, _ := strconv.Atoi(m[1]); n >= next {
				next = n + 1
			}
		}
	}
	for i := range c.Checklist {
		it := &c.Checklist[i]
		if it.ID == "" {
			it.ID = fmt.Sprintf("item-%d", next)
			next++
		}
		if it.Status == "" {
			it.Status = ItemTodo
		}
	}
	if c.Gates == nil {
		c.Gates = []Gate{}
	}
	if c.Loop.ContextReset == "" {
		c.Loop.ContextReset = ContextResetNone
	}
	if c.Loop.MaxIterations == 0 {
		c.Loop.MaxIterations = DefaultMaxIterations
	}
}

func (c *Config) Validate() error {
	var problems []string
	if len(c.Checklist) == 0 {
		problems = append(problems, "checklist must have at least one item")
	}
	seen := make(map[string]bool, len(c.Checklist))
	for i, it := range c.Checklist {
		if !itemIDPattern.MatchString(it.ID) {
			problems = append(problems, fmt.Sprintf("checklist[%d]: id %q must look like item-<n>", i, it.ID))
		} else if seen[it.ID] {
			problems = append(problems, fmt.Sprintf("checklist[%d]: duplicate id %q", i, it.ID))
		}
		seen[it.ID] = true
		if it.Title == "" {
			problems = append(problems, fmt.Sprintf("checklist[%d]: title is required", i))
		}
		if it.Status != ItemTodo && it.Status != ItemDone {
			problems = append(problems, fmt.Sprintf("checklist[%d]: unknown status %q", i, it.Status))
		}
	}
	for i, g := range c.Gates {
		if g.Command == "" {
			problems = append(problems, fmt.Sprintf("gates[%d]: command is required", i))
		}
		if g.TimeoutSecs != nil && *g.TimeoutSecs <= 0 {
			problems = append(problems, fmt.Sprintf("gates[%d]: timeoutSecs must be positive", i))
		}
	}
	switch c.Loop.ContextReset {
	case ContextResetNone, ContextResetPerItem, ContextResetPerIteration:
	default:
		problems = append(problems, fmt.Sprintf("loop.contextReset: unknown value %q", c.Loop.ContextReset))
	}
	if c.Loop.MaxIterations < 0 {
		problems = append(problems, "loop.maxIterations must not be negative")
	}
	if c.Loop.GateTimeoutSecs < 0 {
		problems = append(problems, "loop.gateTimeoutSecs must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}

	err := cerr.NewError(cerr.InvalidArgument, "invalid harness config", errors.New(problems[0]))
	for _, p := range problems {
		err.AddDetailMessageWithCode(p, "harness.schema")
	}
	return err
}

// NextTodo returns the index of the first todo item, or -1.
func (c *Config) NextTodo() int {
	for i, it := range c.Checklist {
		if it.Status == ItemTodo {
			return i
		}
	}
	return -1
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Checklist = append([]ChecklistItem(nil), c.Checklist...)
	cp.Gates = append([]Gate(nil), c.Gates...)
	return &cp
}
