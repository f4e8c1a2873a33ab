package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// PGOrgStore implements store.OrgStore backed by Postgres.
type PGOrgStore struct {
	db *sql.DB
}

func NewPGOrgStore(db *sql.DB) *PGOrgStore {
	return &PGOrgStore{db: db}
}

const orgSelectCols = `id, name, mission, guardrails, autonomous_execution_enabled, emergency_stop_reason, max_concurrent_agents, daily_budget_cents, monthly_budget_cents, alert_percent, stop_percent, created_at, updated_at`

func (s *PGOrgStore) Create(ctx context.Context, org *store.OrganizationData) error {
	if org.ID == uuid.Nil {
		org.ID = store.GenNewID()
	}
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now
	if org.MaxConcurrentAgents == 0 {
		org.MaxConcurrentAgents = 10
	}
	if org.AlertPercent == 0 {
		org.AlertPercent = 80
	}
	if org.StopPercent == 0 {
		org.StopPercent = 100
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, mission, guardrails, autonomous_execution_enabled, emergency_stop_reason, max_concurrent_agents, daily_budget_cents, monthly_budget_cents, alert_percent, stop_percent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		org.ID, org.Name, org.Mission, org.Guardrails,
		org.AutonomousExecutionEnabled, org.EmergencyStopReason,
		org.MaxConcurrentAgents, org.DailyBudgetCents, org.MonthlyBudgetCents,
		org.AlertPercent, org.StopPercent, now, now,
	)
	return err
}

func (s *PGOrgStore) Get(ctx context.Context, orgID uuid.UUID) (*store.OrganizationData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgSelectCols+` FROM organizations WHERE id = $1`, orgID)
	return scanOrgRow(row)
}

func (s *PGOrgStore) List(ctx context.Context) ([]store.OrganizationData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orgSelectCols+` FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []store.OrganizationData
	for rows.Next() {
		var d store.OrganizationData
		var stopReason sql.NullString
		if err := rows.Scan(
			&d.ID, &d.Name, &d.Mission, &d.Guardrails,
			&d.AutonomousExecutionEnabled, &stopReason,
			&d.MaxConcurrentAgents, &d.DailyBudgetCents, &d.MonthlyBudgetCents,
			&d.AlertPercent, &d.StopPercent, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if stopReason.Valid {
			d.EmergencyStopReason = &stopReason.String
		}
		orgs = append(orgs, d)
	}
	return orgs, rows.Err()
}

func (s *PGOrgStore) Update(ctx context.Context, orgID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "organizations", orgID, updates)
}

func (s *PGOrgStore) SetAutonomous(ctx context.Context, orgID uuid.UUID, enabled bool, reason *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET autonomous_execution_enabled = $1, emergency_stop_reason = $2, updated_at = $3
		 WHERE id = $4`,
		enabled, reason, time.Now(), orgID)
	return err
}

func scanOrgRow(row *sql.Row) (*store.OrganizationData, error) {
	var d store.OrganizationData
	var stopReason sql.NullString
	err := row.Scan(
		&d.ID, &d.Name, &d.Mission, &d.Guardrails,
		&d.AutonomousExecutionEnabled, &stopReason,
		&d.MaxConcurrentAgents, &d.DailyBudgetCents, &d.MonthlyBudgetCents,
		&d.AlertPercent, &d.StopPercent, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if stopReason.Valid {
		d.EmergencyStopReason = &stopReason.String
	}
	return &d, nil
}
