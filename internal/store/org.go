package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrganizationData is the root tenant entity. It carries the org-wide
// execution switches the scheduler consults before every driver tick.
type OrganizationData struct {
	ID                         uuid.UUID
	Name                       string
	Mission                    string
	Guardrails                 string
	AutonomousExecutionEnabled bool
	EmergencyStopReason        *string
	MaxConcurrentAgents        int
	DailyBudgetCents           *float64
	MonthlyBudgetCents         *float64
	AlertPercent               int
	StopPercent                int
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

type OrgStore interface {
	Create(ctx context.Context, org *OrganizationData) error
	Get(ctx context.Context, orgID uuid.UUID) (*OrganizationData, error)
	List(ctx context.Context) ([]OrganizationData, error)
	Update(ctx context.Context, orgID uuid.UUID, updates map[string]any) error

	// SetAutonomous flips the org-wide kill switch. A nil reason clears
	// the stored stop reason (used on resume).
	SetAutonomous(ctx context.Context, orgID uuid.UUID, enabled bool, reason *string) error
}
