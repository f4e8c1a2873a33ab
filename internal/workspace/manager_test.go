package workspace

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestWorktreePath verifies the deterministic (agent, task) partitioning next
// to the project root.
func TestWorktreePath(t *testing.T) {
	agentID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	taskID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	got := WorktreePath("/srv/projects/api", agentID, taskID)
	want := filepath.Join("/srv/projects", ".git-worktrees", "agent-11111111", "task-aaaaaaaa")
	if got != want {
		t.Errorf("WorktreePath = %q, want %q", got, want)
	}
}

// TestWorktreePath_Deterministic verifies the same inputs always map to the
// same path, since merge cleanup reconstructs it later.
func TestWorktreePath_Deterministic(t *testing.T) {
	agentID, taskID := uuid.New(), uuid.New()
	a := WorktreePath("/srv/p", agentID, taskID)
	b := WorktreePath("/srv/p", agentID, taskID)
	if a != b {
		t.Errorf("path not deterministic: %q vs %q", a, b)
	}
}

// TestBranchName verifies the feature branch shape and agent-name sanitizing.
func TestBranchName(t *testing.T) {
	taskID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	tests := []struct {
		name  string
		agent string
		want  string
	}{
		{name: "plain", agent: "ada", want: "feature/ada/task-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"},
		{name: "uppercase folded", agent: "Ada Lovelace", want: "feature/ada-lovelace/task-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"},
		{name: "special chars collapse to dashes", agent: "dev@team#1", want: "feature/dev-team-1/task-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BranchName(tt.agent, taskID); got != tt.want {
				t.Errorf("BranchName(%q) = %q, want %q", tt.agent, got, tt.want)
			}
		})
	}
}

// TestSanitizeRef verifies edge trimming and that only [a-z0-9-] survives.
func TestSanitizeRef(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "ada", want: "ada"},
		{in: "--ada--", want: "ada"},
		{in: "temp agent #2", want: "temp-agent--2"},
		{in: "ÜBER", want: "ber"},
	}
	for _, tt := range tests {
		if got := sanitizeRef(tt.in); got != tt.want {
			t.Errorf("sanitizeRef(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestCleanup_NilAndMissing verifies Cleanup is a no-op for nil workspaces
// and already-removed paths, so double cleanup is safe.
func TestCleanup_NilAndMissing(t *testing.T) {
	m := NewManager(time.Second)
	if err := m.Cleanup(context.Background(), nil); err != nil {
		t.Errorf("Cleanup(nil) = %v, want nil", err)
	}
	ws := &Workspace{Path: filepath.Join(t.TempDir(), "does-not-exist"), ProjectRoot: t.TempDir()}
	if err := m.Cleanup(context.Background(), ws); err != nil {
		t.Errorf("Cleanup(missing path) = %v, want nil", err)
	}
}

// TestSweepOrphans_NoRoot verifies a project without a worktree root sweeps
// zero entries without error.
func TestSweepOrphans_NoRoot(t *testing.T) {
	m := NewManager(time.Second)
	n, err := m.SweepOrphans(context.Background(), filepath.Join(t.TempDir(), "proj"), time.Hour)
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if n != 0 {
		t.Errorf("swept %d, want 0", n)
	}
}

// TestNewManager_DefaultTimeout verifies the zero value picks up the default
// git timeout.
func TestNewManager_DefaultTimeout(t *testing.T) {
	m := NewManager(0)
	if m.gitTimeout != 2*time.Minute {
		t.Errorf("gitTimeout = %v, want 2m", m.gitTimeout)
	}
}
