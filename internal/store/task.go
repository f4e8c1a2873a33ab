package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task types.
const (
	TaskTypeStandard = "standard"
	TaskTypeEpic     = "epic"
	TaskTypeBug      = "bug"
	TaskTypeSpike    = "spike"
	TaskTypeTeamEpic = "team_epic"
)

// Task statuses. pending → ready → in_progress, then in_review or
// ready_for_review on the way to completed; blocked, failed, and cancelled
// are the off-ramps. Terminal states are logical only, never re-entered.
const (
	TaskStatusPending        = "pending"
	TaskStatusReady          = "ready"
	TaskStatusInProgress     = "in_progress"
	TaskStatusInReview       = "in_review"
	TaskStatusReadyForReview = "ready_for_review"
	TaskStatusCompleted      = "completed"
	TaskStatusBlocked        = "blocked"
	TaskStatusFailed         = "failed"
	TaskStatusCancelled      = "cancelled"
)

// Task priorities, P1 highest. Stored as smallint so ORDER BY priority ASC
// ranks urgent work first.
const (
	TaskPriorityP1 = 1
	TaskPriorityP2 = 2
	TaskPriorityP3 = 3
	TaskPriorityP4 = 4
)

// MaxTaskDepth bounds the decomposition tree.
const MaxTaskDepth = 3

// TaskData is a unit of work. Exactly one of AssignedAgentID and
// AssignedTeamID is non-nil at any time (enforced by a table CHECK and
// revalidated in the orchestrator).
type TaskData struct {
	ID                    uuid.UUID
	OrgID                 uuid.UUID
	ProjectID             *uuid.UUID
	GoalID                *uuid.UUID
	ParentTaskID          *uuid.UUID
	Title                 string
	Description           string
	Type                  string
	Status                string
	Priority              int
	Depth                 int
	AffectedFiles         []string
	RequiredSkills        []string
	Tags                  []string
	AssignedAgentID       *uuid.UUID
	AssignedTeamID        *uuid.UUID
	RetryCount            int
	ReviewCount           int
	EscalationLevel       int
	RequiresHumanApproval bool
	BlockedBy             []uuid.UUID
	NextAttemptAt         *time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
	ErrorMessage          *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Terminal reports whether the task is in a logical end state.
func (t *TaskData) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	}
	return false
}

type TaskStore interface {
	Create(ctx context.Context, task *TaskData) error
	Get(ctx context.Context, taskID uuid.UUID) (*TaskData, error)
	Update(ctx context.Context, taskID uuid.UUID, updates map[string]any) error

	// CreateSubtasks inserts all subtasks and moves the parent to
	// parentStatus in one transaction. Either everything lands or nothing
	// does — a half-distributed epic must never be observable.
	CreateSubtasks(ctx context.Context, parentID uuid.UUID, parentStatus string, subtasks []*TaskData) error

	// Claim is the atomic pull: compare-and-set on status, assigning the
	// agent and stamping started_at. Returns ErrNotClaimed if another
	// agent won the race or the task left the eligible state.
	Claim(ctx context.Context, taskID, agentID uuid.UUID, fromStatus string) error

	// Release clears the assignment and resets status to pending. Used on
	// retryable failures so another agent may claim the task.
	Release(ctx context.Context, taskID uuid.UUID) error

	// Complete marks the task completed, removes it from other tasks'
	// blocked_by arrays, and raises fully-unblocked pending siblings to
	// ready, all in one transaction.
	Complete(ctx context.Context, taskID uuid.UUID) error

	// Pull candidate queries, one per priority class. All return rows
	// ordered by priority ASC, created_at ASC.
	//
	// ListReviewDue covers both review duties of an agent: its own
	// delegated parents in ready_for_review, and ready_for_review team
	// epics belonging to a team the agent manages (epics carry a team
	// assignment, never an agent).
	ListReviewDue(ctx context.Context, agentID uuid.UUID) ([]TaskData, error)
	ListAssignedRunnable(ctx context.Context, agentID uuid.UUID) ([]TaskData, error)
	ListUnassignedReadyByTeam(ctx context.Context, teamID uuid.UUID) ([]TaskData, error)
	ListUnassignedReadyByOrg(ctx context.Context, orgID uuid.UUID) ([]TaskData, error)

	// CompletedAffectedFilesSince returns the union of affected_files over
	// tasks this agent completed inside the affinity window.
	CompletedAffectedFilesSince(ctx context.Context, agentID uuid.UUID, since time.Time) ([]string, error)

	ListInProgress(ctx context.Context, orgID uuid.UUID) ([]TaskData, error)
	ListSubtasks(ctx context.Context, parentID uuid.UUID) ([]TaskData, error)
	CountInProgressByAgent(ctx context.Context, agentID uuid.UUID) (int, error)

	// Scheduler sweeps.
	ListStuck(ctx context.Context, startedBefore time.Time) ([]TaskData, error)

	// ListEscalated returns tasks parked by escalation levels 3 and 4
	// (in_review awaiting a leader, blocked after the org broadcast) whose
	// last update predates updatedBefore. Tasks already waiting on a human
	// are excluded.
	ListEscalated(ctx context.Context, updatedBefore time.Time) ([]TaskData, error)
	ListPendingTeamEpics(ctx context.Context, orgID uuid.UUID) ([]TaskData, error)
	ResetInProgress(ctx context.Context, orgID uuid.UUID) (int64, error)
	StatusCounts(ctx context.Context, orgID uuid.UUID) (map[string]int, error)
}
