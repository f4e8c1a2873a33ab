package store

import (
	"errors"

	"github.com/google/uuid"
)

// Common storage errors. Callers branch on these instead of string matching.
var (
	ErrNotFound   = errors.New("not found")
	ErrNotClaimed = errors.New("not claimed: row was not in the expected state")
)

// StoreConfig carries backend connection settings.
type StoreConfig struct {
	PostgresDSN string
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Orgs         OrgStore
	Teams        TeamStore
	Agents       AgentStore
	Roles        RoleStore
	Tasks        TaskStore
	Goals        GoalStore
	Projects     ProjectStore
	Documents    DocumentStore
	Approvals    ApprovalStore
	PullRequests PullRequestStore
	Costs        CostStore
}

// GenNewID returns a fresh v4 UUID for new rows.
func GenNewID() uuid.UUID {
	return uuid.New()
}
