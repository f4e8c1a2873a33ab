package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CostRecordData is one LLM invocation's token and cost accounting.
// EstimatedCents is computed before the call; ActualCents after, from the
// provider's reported token counts when available.
type CostRecordData struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	AgentID        *uuid.UUID
	TaskID         *uuid.UUID
	InputTokens    int
	OutputTokens   int
	EstimatedCents float64
	ActualCents    float64
	CreatedAt      time.Time
}

type CostStore interface {
	Insert(ctx context.Context, rec *CostRecordData) error

	// SumCentsSince totals actual cents for an org from the given instant.
	// Drives the daily/monthly budget gate.
	SumCentsSince(ctx context.Context, orgID uuid.UUID, since time.Time) (float64, error)
}
