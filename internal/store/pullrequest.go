package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Pull request statuses as reported by the VCS provider.
const (
	PRStatusOpen             = "open"
	PRStatusApproved         = "approved"
	PRStatusChangesRequested = "changes_requested"
	PRStatusMerged           = "merged"
	PRStatusClosed           = "closed"
)

// TaskPullRequestData binds a task to its review artifact.
type TaskPullRequestData struct {
	ID        uuid.UUID
	TaskID    uuid.UUID
	PRID      string
	Branch    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PullRequestStore interface {
	Create(ctx context.Context, pr *TaskPullRequestData) error
	GetByTask(ctx context.Context, taskID uuid.UUID) (*TaskPullRequestData, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListByStatus(ctx context.Context, status string) ([]TaskPullRequestData, error)
}
