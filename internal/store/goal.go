package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Goal statuses.
const (
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
	GoalStatusArchived  = "archived"
)

// GoalData is a human-authored objective the decomposer expands into
// projects and tasks.
type GoalData struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	Title          string
	Description    string
	Status         string
	AutoDecomposed bool
	TargetDate     *time.Time
	KeyResults     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProjectData groups tasks and owns the VCS root used for worktrees.
type ProjectData struct {
	ID                uuid.UUID
	OrgID             uuid.UUID
	GoalID            *uuid.UUID
	Name              string
	Description       string
	WorkingDirectory  string
	IntegrationBranch string
	CreatedAt         time.Time
}

type GoalStore interface {
	Create(ctx context.Context, goal *GoalData) error
	Get(ctx context.Context, goalID uuid.UUID) (*GoalData, error)
	ListUndecomposed(ctx context.Context, orgID uuid.UUID) ([]GoalData, error)
	MarkDecomposed(ctx context.Context, goalID uuid.UUID) error
	Update(ctx context.Context, goalID uuid.UUID, updates map[string]any) error
}

type ProjectStore interface {
	Create(ctx context.Context, project *ProjectData) error
	Get(ctx context.Context, projectID uuid.UUID) (*ProjectData, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]ProjectData, error)
}
