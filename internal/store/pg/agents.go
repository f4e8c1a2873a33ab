package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

const agentSelectCols = `a.id, a.org_id, a.team_id, a.role_id, a.name, a.status, a.lifecycle, a.depth, a.manager_id, a.created_by_agent_id, a.current_task_id, a.persona, a.deleted_at, a.created_at, a.updated_at, COALESCE(r.name, '') AS role_name, COALESCE(r.capabilities, '{}') AS role_capabilities`

const agentFromJoin = ` FROM agents a LEFT JOIN roles r ON r.id = a.role_id `

func (s *PGAgentStore) Create(ctx context.Context, agent *store.AgentData) error {
	if agent.ID == uuid.Nil {
		agent.ID = store.GenNewID()
	}
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = store.AgentStatusIdle
	}
	if agent.Lifecycle == "" {
		agent.Lifecycle = store.AgentLifecyclePermanent
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, org_id, team_id, role_id, name, status, lifecycle, depth, manager_id, created_by_agent_id, current_task_id, persona, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		agent.ID, agent.OrgID, agent.TeamID, agent.RoleID, agent.Name,
		agent.Status, agent.Lifecycle, agent.Depth, agent.ManagerID,
		agent.CreatedByAgentID, agent.CurrentTaskID, agent.Persona, now, now,
	)
	return err
}

func (s *PGAgentStore) Get(ctx context.Context, agentID uuid.UUID) (*store.AgentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentSelectCols+agentFromJoin+`WHERE a.id = $1`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents, err := scanAgentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, store.ErrNotFound
	}
	return &agents[0], nil
}

func (s *PGAgentStore) Update(ctx context.Context, agentID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "agents", agentID, updates)
}

func (s *PGAgentStore) SetStatus(ctx context.Context, agentID uuid.UUID, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND deleted_at IS NULL`,
		to, time.Now(), agentID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotClaimed
	}
	return nil
}

func (s *PGAgentStore) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]store.AgentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentSelectCols+agentFromJoin+`WHERE a.team_id = $1 AND a.deleted_at IS NULL ORDER BY a.name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

func (s *PGAgentStore) ListIdle(ctx context.Context, orgID uuid.UUID) ([]store.AgentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentSelectCols+agentFromJoin+`WHERE a.org_id = $1 AND a.status = $2 AND a.deleted_at IS NULL ORDER BY a.name`,
		orgID, store.AgentStatusIdle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

func (s *PGAgentStore) CountByStatus(ctx context.Context, orgID uuid.UUID, statuses ...string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE org_id = $1 AND status = ANY($2) AND deleted_at IS NULL`,
		orgID, pq.Array(statuses)).Scan(&n)
	return n, err
}

func (s *PGAgentStore) PauseRunning(ctx context.Context, orgID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = $1, updated_at = $2
		 WHERE org_id = $3 AND status IN ($4, $5) AND deleted_at IS NULL`,
		store.AgentStatusPaused, time.Now(), orgID,
		store.AgentStatusWorking, store.AgentStatusReviewing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGAgentStore) ResumePaused(ctx context.Context, orgID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = $1, updated_at = $2
		 WHERE org_id = $3 AND status = $4 AND deleted_at IS NULL`,
		store.AgentStatusIdle, time.Now(), orgID, store.AgentStatusPaused)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGAgentStore) ListTemporaryByCreator(ctx context.Context, createdBy uuid.UUID) ([]store.AgentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentSelectCols+agentFromJoin+`WHERE a.created_by_agent_id = $1 AND a.lifecycle = $2 AND a.deleted_at IS NULL`,
		createdBy, store.AgentLifecycleTemporary)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

func (s *PGAgentStore) SoftDelete(ctx context.Context, agentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now(), agentID)
	return err
}

func scanAgentRows(rows *sql.Rows) ([]store.AgentData, error) {
	var agents []store.AgentData
	for rows.Next() {
		var d store.AgentData
		var deletedAt sql.NullTime
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.TeamID, &d.RoleID, &d.Name,
			&d.Status, &d.Lifecycle, &d.Depth, &d.ManagerID,
			&d.CreatedByAgentID, &d.CurrentTaskID, &d.Persona,
			&deletedAt, &d.CreatedAt, &d.UpdatedAt, &d.RoleName,
			pq.Array(&d.RoleCapabilities),
		); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			d.DeletedAt = &deletedAt.Time
		}
		agents = append(agents, d)
	}
	return agents, rows.Err()
}

// ============================================================
// Roles
// ============================================================

// PGRoleStore implements store.RoleStore backed by Postgres.
type PGRoleStore struct {
	db *sql.DB
}

func NewPGRoleStore(db *sql.DB) *PGRoleStore {
	return &PGRoleStore{db: db}
}

const roleSelectCols = `id, org_id, name, capabilities, available_for_temporary_agent, system_prompt, created_at`

func (s *PGRoleStore) Create(ctx context.Context, role *store.RoleData) error {
	if role.ID == uuid.Nil {
		role.ID = store.GenNewID()
	}
	role.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, org_id, name, capabilities, available_for_temporary_agent, system_prompt, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		role.ID, role.OrgID, role.Name, pq.Array(role.Capabilities),
		role.AvailableForTemporaryAgent, role.SystemPrompt, role.CreatedAt,
	)
	return err
}

func (s *PGRoleStore) Get(ctx context.Context, roleID uuid.UUID) (*store.RoleData, error) {
	var d store.RoleData
	err := s.db.QueryRowContext(ctx,
		`SELECT `+roleSelectCols+` FROM roles WHERE id = $1`, roleID).Scan(
		&d.ID, &d.OrgID, &d.Name, pq.Array(&d.Capabilities),
		&d.AvailableForTemporaryAgent, &d.SystemPrompt, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGRoleStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]store.RoleData, error) {
	return s.list(ctx, `SELECT `+roleSelectCols+` FROM roles WHERE org_id = $1 ORDER BY name`, orgID)
}

func (s *PGRoleStore) ListTemporaryEligible(ctx context.Context, orgID uuid.UUID) ([]store.RoleData, error) {
	return s.list(ctx, `SELECT `+roleSelectCols+` FROM roles WHERE org_id = $1 AND available_for_temporary_agent ORDER BY name`, orgID)
}

func (s *PGRoleStore) list(ctx context.Context, query string, args ...any) ([]store.RoleData, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []store.RoleData
	for rows.Next() {
		var d store.RoleData
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.Name, pq.Array(&d.Capabilities),
			&d.AvailableForTemporaryAgent, &d.SystemPrompt, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		roles = append(roles, d)
	}
	return roles, rows.Err()
}
