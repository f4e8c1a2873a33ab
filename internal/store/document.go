package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Document scopes, narrowest last. A document is visible to an agent when
// its scope matches any level of the agent's hierarchy.
const (
	DocScopeOrganization = "organization"
	DocScopeTeam         = "team"
	DocScopeProject      = "project"
	DocScopeAgent        = "agent"
)

// DocumentData is long-term memory consumed by the knowledge injector.
type DocumentData struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	Scope      string
	ScopeID    *uuid.UUID // team/project/agent id when scope is not organization
	Title      string
	Keywords   []string
	Importance int // 1..10
	Content    string
	CreatedAt  time.Time
}

// ScopeRef names one level of an agent's hierarchy for document selection.
type ScopeRef struct {
	Scope   string
	ScopeID *uuid.UUID
}

type DocumentStore interface {
	Create(ctx context.Context, doc *DocumentData) error

	// Search returns documents whose scope matches any given ref AND whose
	// keywords overlap the query keywords, ranked importance DESC then
	// created_at DESC, at most limit rows.
	Search(ctx context.Context, orgID uuid.UUID, scopes []ScopeRef, keywords []string, limit int) ([]DocumentData, error)
}
