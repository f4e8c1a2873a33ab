package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Approval request kinds.
const (
	ApprovalKindEscalation    = "escalation"
	ApprovalKindCostOverride  = "cost_override"
	ApprovalKindQuality       = "quality"
	ApprovalKindArchitectural = "architectural"
)

// Approval request statuses.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// ApprovalRequestData surfaces a decision to a human. Always linked to the
// task and the offending agent.
type ApprovalRequestData struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Kind      string
	TaskID    uuid.UUID
	AgentID   uuid.UUID
	Reason    string
	Status    string
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequestData) error
	Get(ctx context.Context, id uuid.UUID) (*ApprovalRequestData, error)
	ListPending(ctx context.Context, orgID uuid.UUID) ([]ApprovalRequestData, error)
	Resolve(ctx context.Context, id uuid.UUID, status string) error
}
