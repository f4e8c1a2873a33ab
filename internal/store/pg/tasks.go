package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// PGTaskStore implements store.TaskStore backed by Postgres.
type PGTaskStore struct {
	db *sql.DB
}

func NewPGTaskStore(db *sql.DB) *PGTaskStore {
	return &PGTaskStore{db: db}
}

const taskSelectCols = `id, org_id, project_id, goal_id, parent_task_id, title, description, type, status, priority, depth, affected_files, required_skills, tags, assigned_agent_id, assigned_team_id, retry_count, review_count, escalation_level, requires_human_approval, blocked_by, next_attempt_at, started_at, completed_at, error_message, created_at, updated_at`

// runnableWindow excludes tasks parked by escalation backoff.
const runnableWindow = ` AND (next_attempt_at IS NULL OR next_attempt_at <= NOW()) AND cardinality(blocked_by) = 0 `

func (s *PGTaskStore) Create(ctx context.Context, task *store.TaskData) error {
	return insertTask(ctx, s.db, task)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, task *store.TaskData) error {
	if task.ID == uuid.Nil {
		task.ID = store.GenNewID()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = store.TaskStatusPending
	}
	if task.Priority == 0 {
		task.Priority = store.TaskPriorityP3
	}
	if task.BlockedBy == nil {
		task.BlockedBy = []uuid.UUID{}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO tasks (id, org_id, project_id, goal_id, parent_task_id, title, description, type, status, priority, depth, affected_files, required_skills, tags, assigned_agent_id, assigned_team_id, retry_count, review_count, escalation_level, requires_human_approval, blocked_by, next_attempt_at, started_at, completed_at, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		task.ID, task.OrgID, task.ProjectID, task.GoalID, task.ParentTaskID,
		task.Title, task.Description, task.Type, task.Status, task.Priority,
		task.Depth, pq.Array(task.AffectedFiles), pq.Array(task.RequiredSkills),
		pq.Array(task.Tags), task.AssignedAgentID, task.AssignedTeamID,
		task.RetryCount, task.ReviewCount, task.EscalationLevel,
		task.RequiresHumanApproval, pq.Array(task.BlockedBy),
		task.NextAttemptAt, task.StartedAt, task.CompletedAt,
		task.ErrorMessage, now, now,
	)
	return err
}

func (s *PGTaskStore) Get(ctx context.Context, taskID uuid.UUID) (*store.TaskData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskSelectCols+` FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.ErrNotFound
	}
	return &tasks[0], nil
}

func (s *PGTaskStore) Update(ctx context.Context, taskID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "tasks", taskID, updates)
}

func (s *PGTaskStore) CreateSubtasks(ctx context.Context, parentID uuid.UUID, parentStatus string, subtasks []*store.TaskData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sub := range subtasks {
		sub.ParentTaskID = &parentID
		if err := insertTask(ctx, tx, sub); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		parentStatus, time.Now(), parentID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGTaskStore) Claim(ctx context.Context, taskID, agentID uuid.UUID, fromStatus string) error {
	// CAS on status; team assignment is swapped for the claiming agent so
	// the XOR invariant holds. A task directly assigned to another agent
	// is never claimable.
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET assigned_agent_id = $1, assigned_team_id = NULL, status = $2, started_at = NOW(), updated_at = NOW()
		 WHERE id = $3 AND status = $4 AND (assigned_agent_id IS NULL OR assigned_agent_id = $1)`,
		agentID, store.TaskStatusInProgress, taskID, fromStatus)
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

func (s *PGTaskStore) Release(ctx context.Context, taskID uuid.UUID) error {
	// The assignment moves back to the claiming agent's team so exactly
	// one of (agent, team) stays non-null.
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks t SET status = $1,
		        assigned_team_id = COALESCE(a.team_id, t.assigned_team_id),
		        assigned_agent_id = CASE WHEN a.team_id IS NULL AND t.assigned_team_id IS NULL THEN t.assigned_agent_id ELSE NULL END,
		        started_at = NULL, updated_at = NOW()
		 FROM agents a
		 WHERE t.id = $2 AND a.id = t.assigned_agent_id`,
		store.TaskStatusPending, taskID)
	return err
}

func (s *PGTaskStore) Complete(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = $1, completed_at = NOW(), updated_at = NOW() WHERE id = $2`,
		store.TaskStatusCompleted, taskID)
	if err != nil {
		return err
	}

	// Unblock dependents: drop this id from blocked_by arrays, then raise
	// fully-unblocked pending tasks to ready.
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET blocked_by = array_remove(blocked_by, $1), updated_at = NOW()
		 WHERE $1 = ANY(blocked_by)`, taskID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND cardinality(blocked_by) = 0 AND parent_task_id IS NOT NULL
		   AND parent_task_id = (SELECT parent_task_id FROM tasks WHERE id = $3)`,
		store.TaskStatusReady, store.TaskStatusPending, taskID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGTaskStore) ListReviewDue(ctx context.Context, agentID uuid.UUID) ([]store.TaskData, error) {
	// Team epics are team-assigned by invariant, so they route through the
	// managing agent rather than a direct assignment.
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE status = $2
		   AND (assigned_agent_id = $1
		        OR (type = $3 AND assigned_team_id IN (
		              SELECT id FROM teams WHERE manager_agent_id = $1)))
		 ORDER BY priority, created_at`,
		agentID, store.TaskStatusReadyForReview, store.TaskTypeTeamEpic)
}

func (s *PGTaskStore) ListAssignedRunnable(ctx context.Context, agentID uuid.UUID) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE assigned_agent_id = $1 AND status IN ($2, $3)`+runnableWindow+`
		 ORDER BY priority, created_at`,
		agentID, store.TaskStatusReady, store.TaskStatusPending)
}

func (s *PGTaskStore) ListUnassignedReadyByTeam(ctx context.Context, teamID uuid.UUID) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE assigned_team_id = $1 AND assigned_agent_id IS NULL AND status = $2 AND type != $3`+runnableWindow+`
		 ORDER BY priority, created_at`,
		teamID, store.TaskStatusReady, store.TaskTypeTeamEpic)
}

func (s *PGTaskStore) ListUnassignedReadyByOrg(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE org_id = $1 AND assigned_agent_id IS NULL AND status = $2 AND type != $3`+runnableWindow+`
		 ORDER BY priority, created_at`,
		orgID, store.TaskStatusReady, store.TaskTypeTeamEpic)
}

func (s *PGTaskStore) CompletedAffectedFilesSince(ctx context.Context, agentID uuid.UUID, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT unnest(affected_files) FROM tasks
		 WHERE assigned_agent_id = $1 AND status = $2 AND completed_at >= $3`,
		agentID, store.TaskStatusCompleted, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PGTaskStore) ListInProgress(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks WHERE org_id = $1 AND status = $2 ORDER BY created_at`,
		orgID, store.TaskStatusInProgress)
}

func (s *PGTaskStore) ListSubtasks(ctx context.Context, parentID uuid.UUID) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks WHERE parent_task_id = $1 ORDER BY created_at`, parentID)
}

func (s *PGTaskStore) CountInProgressByAgent(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE assigned_agent_id = $1 AND status = $2`,
		agentID, store.TaskStatusInProgress).Scan(&n)
	return n, err
}

func (s *PGTaskStore) ListStuck(ctx context.Context, startedBefore time.Time) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks WHERE status = $1 AND started_at < $2 ORDER BY started_at`,
		store.TaskStatusInProgress, startedBefore)
}

func (s *PGTaskStore) ListEscalated(ctx context.Context, updatedBefore time.Time) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE escalation_level IN (3, 4) AND status IN ($1, $2)
		   AND requires_human_approval = FALSE AND updated_at < $3
		 ORDER BY updated_at`,
		store.TaskStatusInReview, store.TaskStatusBlocked, updatedBefore)
}

func (s *PGTaskStore) ListPendingTeamEpics(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return s.list(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE org_id = $1 AND type = $2 AND status = $3
		 ORDER BY priority, created_at`,
		orgID, store.TaskTypeTeamEpic, store.TaskStatusPending)
}

func (s *PGTaskStore) ResetInProgress(ctx context.Context, orgID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, started_at = NULL, updated_at = NOW()
		 WHERE org_id = $2 AND status = $3`,
		store.TaskStatusPending, orgID, store.TaskStatusInProgress)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGTaskStore) StatusCounts(ctx context.Context, orgID uuid.UUID) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE org_id = $1 GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PGTaskStore) list(ctx context.Context, query string, args ...any) ([]store.TaskData, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func scanTaskRows(rows *sql.Rows) ([]store.TaskData, error) {
	var tasks []store.TaskData
	for rows.Next() {
		var d store.TaskData
		var errMsg sql.NullString
		var nextAttempt, startedAt, completedAt sql.NullTime
		var blockedBy []uuid.UUID
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.ProjectID, &d.GoalID, &d.ParentTaskID,
			&d.Title, &d.Description, &d.Type, &d.Status, &d.Priority, &d.Depth,
			pq.Array(&d.AffectedFiles), pq.Array(&d.RequiredSkills), pq.Array(&d.Tags),
			&d.AssignedAgentID, &d.AssignedTeamID,
			&d.RetryCount, &d.ReviewCount, &d.EscalationLevel, &d.RequiresHumanApproval,
			pq.Array(&blockedBy), &nextAttempt, &startedAt, &completedAt,
			&errMsg, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.BlockedBy = blockedBy
		if errMsg.Valid {
			d.ErrorMessage = &errMsg.String
		}
		if nextAttempt.Valid {
			d.NextAttemptAt = &nextAttempt.Time
		}
		if startedAt.Valid {
			d.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			d.CompletedAt = &completedAt.Time
		}
		tasks = append(tasks, d)
	}
	return tasks, rows.Err()
}
