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

// PGGoalStore implements store.GoalStore backed by Postgres.
type PGGoalStore struct {
	db *sql.DB
}

func NewPGGoalStore(db *sql.DB) *PGGoalStore {
	return &PGGoalStore{db: db}
}

const goalSelectCols = `id, org_id, title, description, status, auto_decomposed, target_date, key_results, created_at, updated_at`

func (s *PGGoalStore) Create(ctx context.Context, goal *store.GoalData) error {
	if goal.ID == uuid.Nil {
		goal.ID = store.GenNewID()
	}
	now := time.Now()
	goal.CreatedAt = now
	goal.UpdatedAt = now
	if goal.Status == "" {
		goal.Status = store.GoalStatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (id, org_id, title, description, status, auto_decomposed, target_date, key_results, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		goal.ID, goal.OrgID, goal.Title, goal.Description, goal.Status,
		goal.AutoDecomposed, goal.TargetDate, pq.Array(goal.KeyResults), now, now,
	)
	return err
}

func (s *PGGoalStore) Get(ctx context.Context, goalID uuid.UUID) (*store.GoalData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+goalSelectCols+` FROM goals WHERE id = $1`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	goals, err := scanGoalRows(rows)
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return nil, store.ErrNotFound
	}
	return &goals[0], nil
}

func (s *PGGoalStore) ListUndecomposed(ctx context.Context, orgID uuid.UUID) ([]store.GoalData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+goalSelectCols+` FROM goals
		 WHERE org_id = $1 AND status = $2 AND NOT auto_decomposed
		 ORDER BY created_at`,
		orgID, store.GoalStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGoalRows(rows)
}

func (s *PGGoalStore) MarkDecomposed(ctx context.Context, goalID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE goals SET auto_decomposed = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now(), goalID)
	return err
}

func (s *PGGoalStore) Update(ctx context.Context, goalID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "goals", goalID, updates)
}

func scanGoalRows(rows *sql.Rows) ([]store.GoalData, error) {
	var goals []store.GoalData
	for rows.Next() {
		var d store.GoalData
		var targetDate sql.NullTime
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.Title, &d.Description, &d.Status,
			&d.AutoDecomposed, &targetDate, pq.Array(&d.KeyResults),
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if targetDate.Valid {
			d.TargetDate = &targetDate.Time
		}
		goals = append(goals, d)
	}
	return goals, rows.Err()
}

// ============================================================
// Projects
// ============================================================

// PGProjectStore implements store.ProjectStore backed by Postgres.
type PGProjectStore struct {
	db *sql.DB
}

func NewPGProjectStore(db *sql.DB) *PGProjectStore {
	return &PGProjectStore{db: db}
}

const projectSelectCols = `id, org_id, goal_id, name, description, working_directory, integration_branch, created_at`

func (s *PGProjectStore) Create(ctx context.Context, project *store.ProjectData) error {
	if project.ID == uuid.Nil {
		project.ID = store.GenNewID()
	}
	project.CreatedAt = time.Now()
	if project.IntegrationBranch == "" {
		project.IntegrationBranch = "main"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, org_id, goal_id, name, description, working_directory, integration_branch, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		project.ID, project.OrgID, project.GoalID, project.Name,
		project.Description, project.WorkingDirectory, project.IntegrationBranch,
		project.CreatedAt,
	)
	return err
}

func (s *PGProjectStore) Get(ctx context.Context, projectID uuid.UUID) (*store.ProjectData, error) {
	var d store.ProjectData
	err := s.db.QueryRowContext(ctx,
		`SELECT `+projectSelectCols+` FROM projects WHERE id = $1`, projectID).Scan(
		&d.ID, &d.OrgID, &d.GoalID, &d.Name, &d.Description,
		&d.WorkingDirectory, &d.IntegrationBranch, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGProjectStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]store.ProjectData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectSelectCols+` FROM projects WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []store.ProjectData
	for rows.Next() {
		var d store.ProjectData
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.GoalID, &d.Name, &d.Description,
			&d.WorkingDirectory, &d.IntegrationBranch, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		projects = append(projects, d)
	}
	return projects, rows.Err()
}
