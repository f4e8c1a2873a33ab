package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// PGTeamStore implements store.TeamStore backed by Postgres.
type PGTeamStore struct {
	db *sql.DB
}

func NewPGTeamStore(db *sql.DB) *PGTeamStore {
	return &PGTeamStore{db: db}
}

const teamSelectCols = `t.id, t.org_id, t.parent_team_id, t.manager_agent_id, t.name, t.charter, t.created_at, t.updated_at, COALESCE(a.name, '') AS manager_agent_name`

const teamFromJoin = ` FROM teams t LEFT JOIN agents a ON a.id = t.manager_agent_id `

func (s *PGTeamStore) Create(ctx context.Context, team *store.TeamData) error {
	if team.ID == uuid.Nil {
		team.ID = store.GenNewID()
	}
	now := time.Now()
	team.CreatedAt = now
	team.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, org_id, parent_team_id, manager_agent_id, name, charter, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		team.ID, team.OrgID, team.ParentTeamID, team.ManagerAgentID,
		team.Name, team.Charter, now, now,
	)
	return err
}

func (s *PGTeamStore) Get(ctx context.Context, teamID uuid.UUID) (*store.TeamData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+teamSelectCols+teamFromJoin+`WHERE t.id = $1`, teamID)
	var d store.TeamData
	err := row.Scan(
		&d.ID, &d.OrgID, &d.ParentTeamID, &d.ManagerAgentID,
		&d.Name, &d.Charter, &d.CreatedAt, &d.UpdatedAt, &d.ManagerAgentName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGTeamStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]store.TeamData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teamSelectCols+teamFromJoin+`WHERE t.org_id = $1 ORDER BY t.created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []store.TeamData
	for rows.Next() {
		var d store.TeamData
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.ParentTeamID, &d.ManagerAgentID,
			&d.Name, &d.Charter, &d.CreatedAt, &d.UpdatedAt, &d.ManagerAgentName,
		); err != nil {
			return nil, err
		}
		teams = append(teams, d)
	}
	return teams, rows.Err()
}

func (s *PGTeamStore) Update(ctx context.Context, teamID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "teams", teamID, updates)
}

func (s *PGTeamStore) Delete(ctx context.Context, teamID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	return err
}
