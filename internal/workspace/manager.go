package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCreate marks a worktree creation failure. It is retryable: the task
// attempt fails but the task goes back to the pool.
var ErrCreate = errors.New("workspace: worktree creation failed")

// Workspace is one isolated checkout for a single task attempt. Paths are
// partitioned by (agent, task) so two tasks never share a worktree.
type Workspace struct {
	Path        string
	Branch      string
	ProjectRoot string
}

// Manager owns the on-disk worktree tree rooted next to each project at
// ../.git-worktrees/agent-<id8>/task-<id8>.
type Manager struct {
	gitTimeout time.Duration
}

func NewManager(gitTimeout time.Duration) *Manager {
	if gitTimeout <= 0 {
		gitTimeout = 2 * time.Minute
	}
	return &Manager{gitTimeout: gitTimeout}
}

// WorktreePath computes the deterministic checkout location for an attempt.
func WorktreePath(projectRoot string, agentID, taskID uuid.UUID) string {
	return filepath.Join(filepath.Dir(projectRoot), ".git-worktrees",
		"agent-"+shortID(agentID), "task-"+shortID(taskID))
}

// BranchName computes the feature branch for an attempt.
func BranchName(agentName string, taskID uuid.UUID) string {
	return fmt.Sprintf("feature/%s/task-%s", sanitizeRef(agentName), taskID)
}

// Create checks out a fresh worktree from the integration branch on a new
// feature branch. A dirty leftover path from a crashed attempt is removed
// first so creation stays deterministic.
func (m *Manager) Create(ctx context.Context, projectRoot, baseBranch string, agentID uuid.UUID, agentName string, taskID uuid.UUID) (*Workspace, error) {
	if baseBranch == "" {
		baseBranch = "main"
	}
	path := WorktreePath(projectRoot, agentID, taskID)
	branch := BranchName(agentName, taskID)

	if _, err := os.Stat(path); err == nil {
		if err := m.remove(ctx, projectRoot, path); err != nil {
			return nil, fmt.Errorf("%w: stale worktree at %s: %v", ErrCreate, path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}

	// Worktrees are created on a throwaway ref first, then the branch is
	// renamed into its final feature name. This sidesteps collisions with
	// branches left behind by earlier attempts.
	tmp := "wt-" + shortID(taskID) + "-" + shortID(agentID)
	if _, err := m.git(ctx, projectRoot, "worktree", "add", "-b", tmp, path, baseBranch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}
	if _, err := m.git(ctx, path, "branch", "-m", branch); err != nil {
		_ = m.remove(ctx, projectRoot, path)
		return nil, fmt.Errorf("%w: rename branch: %v", ErrCreate, err)
	}

	slog.Debug("workspace created", "path", path, "branch", branch)
	return &Workspace{Path: path, Branch: branch, ProjectRoot: projectRoot}, nil
}

// Push publishes the feature branch to origin.
func (m *Manager) Push(ctx context.Context, ws *Workspace) error {
	_, err := m.git(ctx, ws.Path, "push", "-u", "origin", ws.Branch)
	return err
}

// Cleanup disposes a worktree. Idempotent: a second call on the same path
// is a no-op after the first success.
func (m *Manager) Cleanup(ctx context.Context, ws *Workspace) error {
	if ws == nil {
		return nil
	}
	if _, err := os.Stat(ws.Path); os.IsNotExist(err) {
		return nil
	}
	return m.remove(ctx, ws.ProjectRoot, ws.Path)
}

// SweepOrphans removes worktrees whose directories are older than the
// cutoff. Driven by the scheduler; catches attempts that died without
// cleanup. Returns the number removed.
func (m *Manager) SweepOrphans(ctx context.Context, projectRoot string, olderThan time.Duration) (int, error) {
	root := filepath.Join(filepath.Dir(projectRoot), ".git-worktrees")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, agentDir := range entries {
		if !agentDir.IsDir() || !strings.HasPrefix(agentDir.Name(), "agent-") {
			continue
		}
		taskDirs, err := os.ReadDir(filepath.Join(root, agentDir.Name()))
		if err != nil {
			continue
		}
		for _, taskDir := range taskDirs {
			if !taskDir.IsDir() || !strings.HasPrefix(taskDir.Name(), "task-") {
				continue
			}
			path := filepath.Join(root, agentDir.Name(), taskDir.Name())
			info, err := taskDir.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := m.remove(ctx, projectRoot, path); err != nil {
				slog.Warn("orphan sweep failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("swept orphan worktrees", "count", removed, "root", root)
	}
	return removed, nil
}

func (m *Manager) remove(ctx context.Context, projectRoot, path string) error {
	if _, err := m.git(ctx, projectRoot, "worktree", "remove", path, "--force"); err != nil {
		// The repo may not know the path (e.g. partially created). Fall
		// back to removing the directory and pruning the registry.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return err
		}
		_, _ = m.git(ctx, projectRoot, "worktree", "prune")
	}
	return nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func sanitizeRef(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
