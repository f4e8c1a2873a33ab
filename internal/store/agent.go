package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Agent status values. Only the orchestrator may move idle → working.
const (
	AgentStatusIdle      = "idle"
	AgentStatusWorking   = "working"
	AgentStatusReviewing = "reviewing"
	AgentStatusPaused    = "paused"
	AgentStatusBlocked   = "blocked"
	AgentStatusError     = "error"
)

// Agent lifecycle values. Temporary agents are spawned by the delegator,
// always at depth 1, and soft-deleted when their parent task settles.
const (
	AgentLifecyclePermanent = "permanent"
	AgentLifecycleTemporary = "temporary"
)

// AgentData is a logical worker with persistent identity.
type AgentData struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	TeamID           *uuid.UUID
	RoleID           uuid.UUID
	Name             string
	Status           string
	Lifecycle        string
	Depth            int
	ManagerID        *uuid.UUID
	CreatedByAgentID *uuid.UUID
	CurrentTaskID    *uuid.UUID
	Persona          string
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Joined from roles for convenience; not persisted on agents.
	RoleName         string
	RoleCapabilities []string
}

// RoleData is a named capability set plus the role's system prompt.
type RoleData struct {
	ID                         uuid.UUID
	OrgID                      uuid.UUID
	Name                       string
	Capabilities               []string
	AvailableForTemporaryAgent bool
	SystemPrompt               string
	CreatedAt                  time.Time
}

type AgentStore interface {
	Create(ctx context.Context, agent *AgentData) error
	Get(ctx context.Context, agentID uuid.UUID) (*AgentData, error)
	Update(ctx context.Context, agentID uuid.UUID, updates map[string]any) error

	// SetStatus is a compare-and-set transition; returns ErrNotClaimed
	// when the agent was not in the expected prior status.
	SetStatus(ctx context.Context, agentID uuid.UUID, from, to string) error

	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]AgentData, error)
	ListIdle(ctx context.Context, orgID uuid.UUID) ([]AgentData, error)
	CountByStatus(ctx context.Context, orgID uuid.UUID, statuses ...string) (int, error)

	// PauseRunning moves working|reviewing agents to paused (emergency stop).
	PauseRunning(ctx context.Context, orgID uuid.UUID) (int64, error)
	// ResumePaused moves paused agents back to idle.
	ResumePaused(ctx context.Context, orgID uuid.UUID) (int64, error)

	ListTemporaryByCreator(ctx context.Context, createdBy uuid.UUID) ([]AgentData, error)
	SoftDelete(ctx context.Context, agentID uuid.UUID) error
}

type RoleStore interface {
	Create(ctx context.Context, role *RoleData) error
	Get(ctx context.Context, roleID uuid.UUID) (*RoleData, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]RoleData, error)
	ListTemporaryEligible(ctx context.Context, orgID uuid.UUID) ([]RoleData, error)
}
