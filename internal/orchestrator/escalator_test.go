package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/store"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

// TestBackoff verifies the doubling retry delay with its 60-minute cap.
func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Minute},
		{attempt: 1, want: 2 * time.Minute},
		{attempt: 2, want: 4 * time.Minute},
		{attempt: 3, want: 8 * time.Minute},
		{attempt: 5, want: 32 * time.Minute},
		{attempt: 6, want: 60 * time.Minute},
		{attempt: 10, want: 60 * time.Minute},
		{attempt: 100, want: 60 * time.Minute},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// TestStartLevel verifies ladder entry points: nil task is a human-approval
// incident, P1 work enters at organization level, the rest self-resolve.
func TestStartLevel(t *testing.T) {
	tests := []struct {
		name string
		task *store.TaskData
		want int
	}{
		{name: "nil task", task: nil, want: LevelHumanApproval},
		{name: "p1", task: &store.TaskData{Priority: store.TaskPriorityP1}, want: LevelOrganization},
		{name: "p2", task: &store.TaskData{Priority: store.TaskPriorityP2}, want: LevelSelfResolve},
		{name: "p4", task: &store.TaskData{Priority: store.TaskPriorityP4}, want: LevelSelfResolve},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StartLevel(tt.task); got != tt.want {
				t.Errorf("StartLevel() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestClassify verifies kind routing: wrapped CycleErrors keep their kind,
// known sentinels map to transient, unknown errors default to transient.
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "cycle error keeps kind", err: Errf(KindBudgetExceeded, "cap hit"), want: KindBudgetExceeded},
		{name: "wrapped cycle error", err: errors.Join(errors.New("outer"), Errf(KindFatal, "bad config")), want: KindFatal},
		{name: "brain timeout", err: brain.ErrTimeout, want: KindTransient},
		{name: "brain spawn", err: brain.ErrSpawn, want: KindTransient},
		{name: "worktree creation", err: workspace.ErrCreate, want: KindTransient},
		{name: "unknown error", err: errors.New("something else"), want: KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestPromoteStalled verifies the timeout ladder: a stale leader review
// (level 3) becomes an organization broadcast, a stale broadcast (level 4)
// becomes a human approval request.
func TestPromoteStalled(t *testing.T) {
	agentID := uuid.New()
	makeEscalator := func(tasks *fakeTasks) (*Escalator, *fakeApprovals, *fakePublisher) {
		approvals := &fakeApprovals{}
		pub := &fakePublisher{}
		agents := &fakeAgents{byID: map[uuid.UUID]*store.AgentData{
			agentID: {ID: agentID, OrgID: uuid.New(), Name: "ada"},
		}}
		return NewEscalator(&store.Stores{
			Tasks:     tasks,
			Agents:    agents,
			Teams:     &fakeTeams{},
			Approvals: approvals,
		}, pub, 3), approvals, pub
	}

	t.Run("level 3 to organization broadcast", func(t *testing.T) {
		tasks := newFakeTasks()
		stale := store.TaskData{
			ID:              uuid.New(),
			OrgID:           uuid.New(),
			Status:          store.TaskStatusInReview,
			EscalationLevel: LevelTeamLeader,
			AssignedAgentID: &agentID,
		}
		tasks.escalated = []store.TaskData{stale}
		esc, _, pub := makeEscalator(tasks)

		promoted, err := esc.PromoteStalled(context.Background(), 24*time.Hour)
		if err != nil {
			t.Fatalf("PromoteStalled: %v", err)
		}
		if promoted != 1 {
			t.Fatalf("promoted = %d, want 1", promoted)
		}
		update := tasks.lastUpdate(stale.ID)
		if update == nil || update["escalation_level"] != LevelOrganization || update["status"] != store.TaskStatusBlocked {
			t.Errorf("update = %v, want blocked at level 4", update)
		}
		if len(pub.msgs) != 1 || pub.msgs[0].Kind != bus.KindEscalation {
			t.Errorf("expected one escalation broadcast, got %v", pub.msgs)
		}
	})

	t.Run("level 4 to human approval", func(t *testing.T) {
		tasks := newFakeTasks()
		stale := store.TaskData{
			ID:              uuid.New(),
			OrgID:           uuid.New(),
			Status:          store.TaskStatusBlocked,
			EscalationLevel: LevelOrganization,
		}
		tasks.escalated = []store.TaskData{stale}
		esc, approvals, _ := makeEscalator(tasks)

		promoted, err := esc.PromoteStalled(context.Background(), 24*time.Hour)
		if err != nil {
			t.Fatalf("PromoteStalled: %v", err)
		}
		if promoted != 1 {
			t.Fatalf("promoted = %d, want 1", promoted)
		}
		if len(approvals.created) != 1 {
			t.Fatalf("approval requests = %d, want 1", len(approvals.created))
		}
		update := tasks.lastUpdate(stale.ID)
		if update == nil || update["requires_human_approval"] != true {
			t.Errorf("update = %v, want requires_human_approval", update)
		}
	})

	t.Run("zero timeout disables the sweep", func(t *testing.T) {
		tasks := newFakeTasks()
		tasks.escalated = []store.TaskData{{ID: uuid.New(), EscalationLevel: LevelTeamLeader}}
		esc, _, _ := makeEscalator(tasks)

		promoted, err := esc.PromoteStalled(context.Background(), 0)
		if err != nil {
			t.Fatalf("PromoteStalled: %v", err)
		}
		if promoted != 0 {
			t.Errorf("promoted = %d, want 0", promoted)
		}
	})
}

// TestKindString pins the wire names used in approval records and logs.
func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransient, "transient"},
		{KindQualityGate, "quality_gate"},
		{KindDependencyCycle, "dependency_cycle"},
		{KindBudgetExceeded, "budget_exceeded"},
		{KindFatal, "fatal"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
