package pool

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// fakeTasks stubs the pull queries and the claim. Unused TaskStore methods
// panic via the embedded nil interface, which keeps the fake honest about
// what PullNext actually touches.
type fakeTasks struct {
	store.TaskStore

	reviewDue   []store.TaskData
	assigned    []store.TaskData
	teamReady   []store.TaskData
	orgReady    []store.TaskData
	recentFiles []string
	inProgress  []store.TaskData

	claimCalls []uuid.UUID
	failClaims int
	released   []uuid.UUID
}

func (f *fakeTasks) ListReviewDue(ctx context.Context, agentID uuid.UUID) ([]store.TaskData, error) {
	return f.reviewDue, nil
}

func (f *fakeTasks) ListAssignedRunnable(ctx context.Context, agentID uuid.UUID) ([]store.TaskData, error) {
	return f.assigned, nil
}

func (f *fakeTasks) ListUnassignedReadyByTeam(ctx context.Context, teamID uuid.UUID) ([]store.TaskData, error) {
	return f.teamReady, nil
}

func (f *fakeTasks) ListUnassignedReadyByOrg(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return f.orgReady, nil
}

func (f *fakeTasks) CompletedAffectedFilesSince(ctx context.Context, agentID uuid.UUID, since time.Time) ([]string, error) {
	return f.recentFiles, nil
}

func (f *fakeTasks) ListInProgress(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return f.inProgress, nil
}

func (f *fakeTasks) Claim(ctx context.Context, taskID, agentID uuid.UUID, fromStatus string) error {
	f.claimCalls = append(f.claimCalls, taskID)
	if len(f.claimCalls) <= f.failClaims {
		return store.ErrNotClaimed
	}
	return nil
}

func (f *fakeTasks) Release(ctx context.Context, taskID uuid.UUID) error {
	f.released = append(f.released, taskID)
	return nil
}

func task(title string, files ...string) store.TaskData {
	return store.TaskData{
		ID:            uuid.New(),
		Title:         title,
		Status:        store.TaskStatusReady,
		AffectedFiles: files,
	}
}

func testAgent(teamID *uuid.UUID, caps ...string) *store.AgentData {
	return &store.AgentData{
		ID:               uuid.New(),
		OrgID:            uuid.New(),
		TeamID:           teamID,
		Name:             "ada",
		RoleCapabilities: caps,
	}
}

// TestPullNext_ReviewDueWinsWithoutClaim verifies class 0 outranks everything
// and that review pulls skip the claim: the task is already the reviewer's.
func TestPullNext_ReviewDueWinsWithoutClaim(t *testing.T) {
	review := task("review epic")
	review.Status = store.TaskStatusReadyForReview
	direct := task("direct work")
	f := &fakeTasks{
		reviewDue: []store.TaskData{review},
		assigned:  []store.TaskData{direct},
	}
	p := New(f, 0, 0)

	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != review.ID {
		t.Fatalf("expected review task, got %+v", got)
	}
	if got.Class != ClassReviewDue {
		t.Errorf("Class = %d, want %d", got.Class, ClassReviewDue)
	}
	if len(f.claimCalls) != 0 {
		t.Errorf("review pull must not claim; Claim called %d times", len(f.claimCalls))
	}
	if got.Task.Status != store.TaskStatusReadyForReview {
		t.Errorf("status mutated to %q", got.Task.Status)
	}
}

// TestPullNext_DirectClaim verifies an assigned task is claimed atomically
// and reported as class 1 with the in-progress status reflected locally.
func TestPullNext_DirectClaim(t *testing.T) {
	direct := task("direct work", "a.go")
	f := &fakeTasks{assigned: []store.TaskData{direct}}
	p := New(f, 0, 0)
	agent := testAgent(nil)

	got, err := p.PullNext(context.Background(), agent)
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != direct.ID {
		t.Fatalf("expected direct task, got %+v", got)
	}
	if got.Class != ClassDirect {
		t.Errorf("Class = %d, want %d", got.Class, ClassDirect)
	}
	if got.Task.Status != store.TaskStatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Task.Status)
	}
	if got.Task.AssignedAgentID == nil || *got.Task.AssignedAgentID != agent.ID {
		t.Errorf("assignee not set on claimed task")
	}
}

// TestPullNext_FileConflictSkips verifies a candidate touching a file owned
// by an in-flight task is passed over for the next candidate.
func TestPullNext_FileConflictSkips(t *testing.T) {
	conflicted := task("touches busy file", "shared.go")
	clean := task("independent work", "other.go")
	running := task("already running", "shared.go")
	running.Status = store.TaskStatusInProgress

	f := &fakeTasks{
		assigned:   []store.TaskData{conflicted, clean},
		inProgress: []store.TaskData{running},
	}
	p := New(f, 0, 0)

	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != clean.ID {
		t.Fatalf("expected the conflict-free task, got %+v", got)
	}
}

// TestPullNext_ClaimRaceBackoff verifies losing the default number of claim
// races returns nil instead of hammering the pool.
func TestPullNext_ClaimRaceBackoff(t *testing.T) {
	f := &fakeTasks{
		assigned:   []store.TaskData{task("a"), task("b"), task("c"), task("d")},
		failClaims: DefaultClaimAttempts,
	}
	p := New(f, 0, 0)

	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got != nil {
		t.Fatalf("expected backoff after %d losses, got %+v", DefaultClaimAttempts, got)
	}
	if len(f.claimCalls) != DefaultClaimAttempts {
		t.Errorf("Claim called %d times, want %d", len(f.claimCalls), DefaultClaimAttempts)
	}
}

// TestPullNext_ClaimAttemptsConfigured verifies the configured attempt bound
// overrides the default.
func TestPullNext_ClaimAttemptsConfigured(t *testing.T) {
	f := &fakeTasks{
		assigned:   []store.TaskData{task("a"), task("b"), task("c")},
		failClaims: 3,
	}
	p := New(f, 0, 1)

	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got != nil {
		t.Fatalf("expected backoff after a single loss, got %+v", got)
	}
	if len(f.claimCalls) != 1 {
		t.Errorf("Claim called %d times, want 1", len(f.claimCalls))
	}
}

// TestPullNext_ClaimRaceRecovers verifies a single lost race moves on to the
// next candidate rather than giving up.
func TestPullNext_ClaimRaceRecovers(t *testing.T) {
	a, b := task("a"), task("b")
	f := &fakeTasks{
		assigned:   []store.TaskData{a, b},
		failClaims: 1,
	}
	p := New(f, 0, 0)

	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != b.ID {
		t.Fatalf("expected second candidate after one lost race, got %+v", got)
	}
}

// TestPullNext_RoleMatchFiltersSkills verifies org-pool tasks demand full
// skill coverage while skill-less tasks match any role.
func TestPullNext_RoleMatchFiltersSkills(t *testing.T) {
	needsRust := task("rust rewrite")
	needsRust.RequiredSkills = []string{"rust"}
	needsGo := task("go service")
	needsGo.RequiredSkills = []string{"go"}
	anySkill := task("write docs")

	f := &fakeTasks{orgReady: []store.TaskData{needsRust, needsGo, anySkill}}
	p := New(f, 0, 0)

	got, err := p.PullNext(context.Background(), testAgent(nil, "go", "sql"))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != needsGo.ID {
		t.Fatalf("expected skill-matched task, got %+v", got)
	}
	if got.Class != ClassRoleMatch {
		t.Errorf("Class = %d, want %d", got.Class, ClassRoleMatch)
	}
}

// TestPullNext_FileAffinityBeatsTeamPool verifies a team task overlapping the
// agent's recently completed files wins class 2 over plain team-pool order.
func TestPullNext_FileAffinityBeatsTeamPool(t *testing.T) {
	teamID := uuid.New()
	familiar := task("follow-up on auth", "auth.go")
	unrelated := task("unrelated work", "billing.go")

	f := &fakeTasks{
		teamReady:   []store.TaskData{unrelated, familiar},
		recentFiles: []string{"auth.go"},
	}
	p := New(f, time.Hour, 0)

	got, err := p.PullNext(context.Background(), testAgent(&teamID))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != familiar.ID {
		t.Fatalf("expected affinity task, got %+v", got)
	}
	if got.Class != ClassFileAffinity {
		t.Errorf("Class = %d, want %d", got.Class, ClassFileAffinity)
	}
}

// TestPullNext_TeamlessAgentSkipsTeamClasses verifies a teamless agent falls
// straight through to the org-wide role match.
func TestPullNext_TeamlessAgentSkipsTeamClasses(t *testing.T) {
	orgTask := task("org-wide work")
	f := &fakeTasks{
		teamReady: []store.TaskData{task("team work")},
		orgReady:  []store.TaskData{orgTask},
	}
	p := New(f, 0, 0)

	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got == nil || got.Task.ID != orgTask.ID {
		t.Fatalf("expected org task, got %+v", got)
	}
	if got.Class != ClassRoleMatch {
		t.Errorf("Class = %d, want %d", got.Class, ClassRoleMatch)
	}
}

// TestPullNext_Empty verifies an empty pool returns nil, nil.
func TestPullNext_Empty(t *testing.T) {
	p := New(&fakeTasks{}, 0, 0)
	got, err := p.PullNext(context.Background(), testAgent(nil))
	if err != nil {
		t.Fatalf("PullNext: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on empty pool, got %+v", got)
	}
}
