package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// Escalation levels.
const (
	LevelSelfResolve   = 1
	LevelTeam          = 2
	LevelTeamLeader    = 3
	LevelOrganization  = 4
	LevelHumanApproval = 5
)

// Backoff returns the retry delay for the nth attempt: min(60, 2^n) minutes.
func Backoff(n int) time.Duration {
	minutes := 1
	for i := 0; i < n && minutes < 60; i++ {
		minutes *= 2
	}
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// StartLevel chooses where on the ladder a failure enters: a missing task is
// a level-5 incident, P1 work skips straight to the organization, everything
// else starts at self-resolve.
func StartLevel(task *store.TaskData) int {
	if task == nil {
		return LevelHumanApproval
	}
	if task.Priority == store.TaskPriorityP1 {
		return LevelOrganization
	}
	return LevelSelfResolve
}

// Escalator walks the five-level recovery ladder. Each level either resolves
// or promotes; level 5 always resolves by handing the task to a human.
type Escalator struct {
	tasks     store.TaskStore
	agents    store.AgentStore
	teams     store.TeamStore
	approvals store.ApprovalStore
	bus       bus.Publisher
	maxRetry  int
}

func NewEscalator(stores *store.Stores, publisher bus.Publisher, maxRetry int) *Escalator {
	return &Escalator{
		tasks:     stores.Tasks,
		agents:    stores.Agents,
		teams:     stores.Teams,
		approvals: stores.Approvals,
		bus:       publisher,
		maxRetry:  maxRetry,
	}
}

// Escalate runs the ladder starting at startLevel and returns the level that
// resolved the failure. agent may be nil when no agent owns the failure.
func (e *Escalator) Escalate(ctx context.Context, task *store.TaskData, agent *store.AgentData, kind string, reason string, startLevel int) (int, error) {
	if task == nil {
		startLevel = LevelHumanApproval
	}
	level := startLevel
	for {
		resolved, err := e.runLevel(ctx, level, task, agent, kind, reason)
		if err != nil {
			return level, err
		}
		if resolved {
			slog.Info("escalation resolved",
				"level", level, "kind", kind,
				"task_id", taskIDString(task), "reason", reason)
			return level, nil
		}
		level++
	}
}

func (e *Escalator) runLevel(ctx context.Context, level int, task *store.TaskData, agent *store.AgentData, kind, reason string) (bool, error) {
	switch level {
	case LevelSelfResolve:
		if task.RetryCount >= e.maxRetry {
			return false, nil
		}
		next := time.Now().Add(Backoff(task.RetryCount))
		return true, e.tasks.Update(ctx, task.ID, map[string]any{
			"status":           store.TaskStatusReady,
			"retry_count":      task.RetryCount + 1,
			"next_attempt_at":  next,
			"escalation_level": LevelSelfResolve,
			"error_message":    reason,
		})

	case LevelTeam:
		if agent == nil || agent.TeamID == nil {
			return false, nil
		}
		mates, err := e.agents.ListByTeam(ctx, *agent.TeamID)
		if err != nil {
			return false, err
		}
		available := 0
		for _, m := range mates {
			if m.ID != agent.ID && m.Status != store.AgentStatusError {
				available++
			}
		}
		if available == 0 {
			return false, nil
		}
		return true, e.tasks.Update(ctx, task.ID, map[string]any{
			"status":            store.TaskStatusReady,
			"assigned_agent_id": nil,
			"assigned_team_id":  *agent.TeamID,
			"escalation_level":  LevelTeam,
			"error_message":     fmt.Sprintf("reassign-from %s: %s", agent.Name, reason),
		})

	case LevelTeamLeader:
		if agent == nil || agent.TeamID == nil {
			return false, nil
		}
		team, err := e.teams.Get(ctx, *agent.TeamID)
		if err != nil || team.ManagerAgentID == nil {
			return false, nil
		}
		return true, e.tasks.Update(ctx, task.ID, map[string]any{
			"status":           store.TaskStatusInReview,
			"escalation_level": LevelTeamLeader,
			"error_message":    fmt.Sprintf("leader decision requested: %s", reason),
		})

	case LevelOrganization:
		if err := e.tasks.Update(ctx, task.ID, map[string]any{
			"status":           store.TaskStatusBlocked,
			"escalation_level": LevelOrganization,
			"error_message":    reason,
		}); err != nil {
			return false, err
		}
		msg := bus.Message{
			Kind:   bus.KindEscalation,
			OrgID:  task.OrgID,
			TaskID: &task.ID,
			Body:   reason,
			Meta:   map[string]string{"level": "4", "failure_kind": kind},
		}
		if agent != nil {
			msg.AgentID = &agent.ID
		}
		e.bus.Send(msg)
		// Organization broadcast resolves the level; the stuck sweep
		// promotes to human approval if nothing picks it up.
		return true, nil

	case LevelHumanApproval:
		req := &store.ApprovalRequestData{
			Kind:   store.ApprovalKindEscalation,
			Reason: reason,
			Status: store.ApprovalStatusPending,
		}
		if kind != "" {
			req.Kind = kind
		}
		if task != nil {
			req.OrgID = task.OrgID
			req.TaskID = task.ID
		}
		if agent != nil {
			req.AgentID = agent.ID
			if req.OrgID == uuid.Nil {
				req.OrgID = agent.OrgID
			}
		}
		if err := e.approvals.Create(ctx, req); err != nil {
			return false, err
		}
		if task != nil {
			return true, e.tasks.Update(ctx, task.ID, map[string]any{
				"status":                  store.TaskStatusBlocked,
				"escalation_level":        LevelHumanApproval,
				"requires_human_approval": true,
				"error_message":           reason,
			})
		}
		return true, nil
	}
	return false, fmt.Errorf("escalator: level %d out of range", level)
}

// PromoteStalled advances tasks parked at levels 3 and 4 that nobody acted on
// within the timeout: a leader review becomes an organization broadcast, an
// unanswered broadcast becomes a human approval request. Returns how many
// tasks moved.
func (e *Escalator) PromoteStalled(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	parked, err := e.tasks.ListEscalated(ctx, time.Now().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("escalate: list parked: %w", err)
	}
	promoted := 0
	for i := range parked {
		task := &parked[i]
		var agent *store.AgentData
		if task.AssignedAgentID != nil {
			agent, _ = e.agents.Get(ctx, *task.AssignedAgentID)
		}
		reason := fmt.Sprintf("level %d unattended for over %s", task.EscalationLevel, timeout)
		if task.ErrorMessage != nil && *task.ErrorMessage != "" {
			reason = fmt.Sprintf("%s: %s", reason, *task.ErrorMessage)
		}
		level, err := e.Escalate(ctx, task, agent, "", reason, task.EscalationLevel+1)
		if err != nil {
			slog.Error("stalled escalation promotion failed",
				"task_id", task.ID, "from_level", task.EscalationLevel, "error", err)
			continue
		}
		promoted++
		slog.Warn("stalled escalation promoted",
			"task_id", task.ID, "from_level", task.EscalationLevel, "to_level", level)
	}
	return promoted, nil
}

func taskIDString(task *store.TaskData) string {
	if task == nil {
		return ""
	}
	return task.ID.String()
}
