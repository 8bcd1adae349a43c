package workspace

import "time"

type Workspace struct {
	ID       string `yaml:"id"`
	ParentID string `yaml:"parent_id,omitempty"`
	Name     string `yaml:"name"`
	Dir      string `yaml:"dir"`
	// Worktree is set when Dir is a git worktree owned by this workspace.
	Worktree  bool      `yaml:"worktree"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

func (w *Workspace) IsRoot() bool {
	return w.ParentID == ""
}
