package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// PGApprovalStore implements store.ApprovalStore backed by Postgres.
type PGApprovalStore struct {
	db *sql.DB
}

func NewPGApprovalStore(db *sql.DB) *PGApprovalStore {
	return &PGApprovalStore{db: db}
}

const approvalSelectCols = `id, org_id, kind, task_id, agent_id, reason, status, metadata, created_at, updated_at`

func (s *PGApprovalStore) Create(ctx context.Context, req *store.ApprovalRequestData) error {
	if req.ID == uuid.Nil {
		req.ID = store.GenNewID()
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = store.ApprovalStatusPending
	}
	metadata := req.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, org_id, kind, task_id, agent_id, reason, status, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.OrgID, req.Kind, req.TaskID, req.AgentID,
		req.Reason, req.Status, metadata, now, now,
	)
	return err
}

func (s *PGApprovalStore) Get(ctx context.Context, id uuid.UUID) (*store.ApprovalRequestData, error) {
	var d store.ApprovalRequestData
	err := s.db.QueryRowContext(ctx,
		`SELECT `+approvalSelectCols+` FROM approval_requests WHERE id = $1`, id).Scan(
		&d.ID, &d.OrgID, &d.Kind, &d.TaskID, &d.AgentID,
		&d.Reason, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGApprovalStore) ListPending(ctx context.Context, orgID uuid.UUID) ([]store.ApprovalRequestData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+approvalSelectCols+` FROM approval_requests
		 WHERE org_id = $1 AND status = $2 ORDER BY created_at`,
		orgID, store.ApprovalStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []store.ApprovalRequestData
	for rows.Next() {
		var d store.ApprovalRequestData
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.Kind, &d.TaskID, &d.AgentID,
			&d.Reason, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		reqs = append(reqs, d)
	}
	return reqs, rows.Err()
}

func (s *PGApprovalStore) Resolve(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	return err
}

// ============================================================
// Task pull requests
// ============================================================

// PGPullRequestStore implements store.PullRequestStore backed by Postgres.
type PGPullRequestStore struct {
	db *sql.DB
}

func NewPGPullRequestStore(db *sql.DB) *PGPullRequestStore {
	return &PGPullRequestStore{db: db}
}

const prSelectCols = `id, task_id, pr_id, branch, status, created_at, updated_at`

func (s *PGPullRequestStore) Create(ctx context.Context, pr *store.TaskPullRequestData) error {
	if pr.ID == uuid.Nil {
		pr.ID = store.GenNewID()
	}
	now := time.Now()
	pr.CreatedAt = now
	pr.UpdatedAt = now
	if pr.Status == "" {
		pr.Status = store.PRStatusOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_pull_requests (id, task_id, pr_id, branch, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pr.ID, pr.TaskID, pr.PRID, pr.Branch, pr.Status, now, now,
	)
	return err
}

func (s *PGPullRequestStore) GetByTask(ctx context.Context, taskID uuid.UUID) (*store.TaskPullRequestData, error) {
	var d store.TaskPullRequestData
	err := s.db.QueryRowContext(ctx,
		`SELECT `+prSelectCols+` FROM task_pull_requests WHERE task_id = $1
		 ORDER BY created_at DESC LIMIT 1`, taskID).Scan(
		&d.ID, &d.TaskID, &d.PRID, &d.Branch, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGPullRequestStore) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "task_pull_requests", id, updates)
}

func (s *PGPullRequestStore) ListByStatus(ctx context.Context, status string) ([]store.TaskPullRequestData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prSelectCols+` FROM task_pull_requests WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []store.TaskPullRequestData
	for rows.Next() {
		var d store.TaskPullRequestData
		if err := rows.Scan(
			&d.ID, &d.TaskID, &d.PRID, &d.Branch, &d.Status, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		prs = append(prs, d)
	}
	return prs, rows.Err()
}

// ============================================================
// Cost records
// ============================================================

// PGCostStore implements store.CostStore backed by Postgres.
type PGCostStore struct {
	db *sql.DB
}

func NewPGCostStore(db *sql.DB) *PGCostStore {
	return &PGCostStore{db: db}
}

func (s *PGCostStore) Insert(ctx context.Context, rec *store.CostRecordData) error {
	if rec.ID == uuid.Nil {
		rec.ID = store.GenNewID()
	}
	rec.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_records (id, org_id, agent_id, task_id, input_tokens, output_tokens, estimated_cents, actual_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.OrgID, rec.AgentID, rec.TaskID,
		rec.InputTokens, rec.OutputTokens, rec.EstimatedCents, rec.ActualCents,
		rec.CreatedAt,
	)
	return err
}

func (s *PGCostStore) SumCentsSince(ctx context.Context, orgID uuid.UUID, since time.Time) (float64, error) {
	var cents float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(actual_cents), 0) FROM cost_records WHERE org_id = $1 AND created_at >= $2`,
		orgID, since).Scan(&cents)
	return cents, err
}
