package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Manager struct {
	repoPath      string
	worktreesPath string
}

func NewManager(repoPath string) (*Manager, error) {
	worktreesPath := filepath.Join(repoPath, ".taskmux", "worktrees")
	if err := os.MkdirAll(worktreesPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}
	if err := EnsureIgnored(filepath.Join(repoPath, ".taskmux")); err != nil {
		return nil, err
	}
	return &Manager{
		repoPath:      repoPath,
		worktreesPath: worktreesPath,
	}, nil
}

// EnsureIgnored drops a catch-all .gitignore into dir so its contents never
// show up in the enclosing repository's status.
func EnsureIgnored(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte("*\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

func BranchName(id string) string {
	return "taskmux/" + id
}

func (m *Manager) CreateWorktree(ctx context.Context, id string) (string, error) {
	worktreePath := m.GetWorktreePath(id)

	if _, err := os.Stat(worktreePath); err == nil {
		return worktreePath, nil
	}

	if err := m.git(ctx, "worktree", "add", "-b", BranchName(id), worktreePath); err != nil {
		return "", fmt.Errorf("failed to create git worktree: %w", err)
	}
	return worktreePath, nil
}

// RemoveWorktree removes the worktree and its branch. Missing worktrees are ignored.
func (m *Manager) RemoveWorktree(ctx context.Context, id string) error {
	worktreePath := m.GetWorktreePath(id)

	if _, err := os.Stat(worktreePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := m.git(ctx, "worktree", "remove", "--force", worktreePath); err != nil {
		return fmt.Errorf("failed to remove git worktree: %w", err)
	}
	// The branch may hold commits the parent still wants; only drop it if merged.
	_ = m.git(ctx, "branch", "-d", BranchName(id))
	return nil
}

func (m *Manager) GetWorktreePath(id string) string {
	return filepath.Join(m.worktreesPath, id)
}

func (m *Manager) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
