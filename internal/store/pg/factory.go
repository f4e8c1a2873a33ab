package pg

import (
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// NewPGStores creates all stores backed by Postgres.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPGStoresWithDB(db), db, nil
}

// NewPGStoresWithDB wires stores onto an existing pool (tests, migrations).
func NewPGStoresWithDB(db *sql.DB) *store.Stores {
	return &store.Stores{
		Orgs:         NewPGOrgStore(db),
		Teams:        NewPGTeamStore(db),
		Agents:       NewPGAgentStore(db),
		Roles:        NewPGRoleStore(db),
		Tasks:        NewPGTaskStore(db),
		Goals:        NewPGGoalStore(db),
		Projects:     NewPGProjectStore(db),
		Documents:    NewPGDocumentStore(db),
		Approvals:    NewPGApprovalStore(db),
		PullRequests: NewPGPullRequestStore(db),
		Costs:        NewPGCostStore(db),
	}
}
