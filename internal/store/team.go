package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TeamData groups agents under an optional manager. Teams form a DAG rooted
// at the organization via ParentTeamID.
type TeamData struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	ParentTeamID   *uuid.UUID
	ManagerAgentID *uuid.UUID
	Name           string
	Charter        string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Joined manager key for display; not persisted on teams.
	ManagerAgentName string
}

type TeamStore interface {
	Create(ctx context.Context, team *TeamData) error
	Get(ctx context.Context, teamID uuid.UUID) (*TeamData, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]TeamData, error)
	Update(ctx context.Context, teamID uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, teamID uuid.UUID) error
}
