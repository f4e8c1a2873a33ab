package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/prompt"
	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// domainKeywords groups vocabulary per engineering domain. A task touching
// three or more domains is considered too broad for one agent.
var domainKeywords = map[string][]string{
	"frontend": {"frontend", "react", "vue", "component", "css", "browser"},
	"backend":  {"backend", "api", "endpoint", "server", "service"},
	"database": {"database", "migration", "schema", "query", "index"},
	"infra":    {"deploy", "docker", "kubernetes", "terraform", "pipeline"},
	"security": {"auth", "oauth", "encryption", "vulnerability", "security"},
}

// delegationHints are explicit decomposition requests in the task text.
var delegationHints = []string{"break this down", "split into subtasks", "delegate"}

// Delegator detects over-broad tasks and spawns temporary specialist agents
// to divide them. Only depth-0 permanent agents may delegate, and children
// are always depth 1.
type Delegator struct {
	tasks    store.TaskStore
	agents   store.AgentStore
	roles    store.RoleStore
	runner   *brain.Runner
	brainCfg BrainSettings

	complexityTokens int
	maxTempDepth     int
}

func NewDelegator(stores *store.Stores, runner *brain.Runner, brainCfg BrainSettings, complexityTokens, maxTempDepth int) *Delegator {
	if maxTempDepth <= 0 {
		maxTempDepth = 1
	}
	return &Delegator{
		tasks:            stores.Tasks,
		agents:           stores.Agents,
		roles:            stores.Roles,
		runner:           runner,
		brainCfg:         brainCfg,
		complexityTokens: complexityTokens,
		maxTempDepth:     maxTempDepth,
	}
}

// IsComplex reports whether a task warrants delegation: an oversized prompt,
// three or more engineering domains, or an explicit hint in the text.
func (d *Delegator) IsComplex(task *store.TaskData, promptTokens int) bool {
	if d.complexityTokens > 0 && promptTokens > d.complexityTokens {
		return true
	}
	text := strings.ToLower(task.Title + " " + task.Description)
	domains := 0
	for _, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				domains++
				break
			}
		}
	}
	if domains >= 3 {
		return true
	}
	for _, hint := range delegationHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

// Delegate plans the split and spawns one temporary agent per planned
// subtask role. The parent task stays in_progress and becomes the parent of
// every generated subtask.
func (d *Delegator) Delegate(ctx context.Context, task *store.TaskData, parentAgent *store.AgentData) error {
	if parentAgent.Depth+1 > d.maxTempDepth || parentAgent.Lifecycle == store.AgentLifecycleTemporary {
		return Errf(KindDepthExceeded, "delegate: agent %s at depth %d may not spawn", parentAgent.Name, parentAgent.Depth)
	}
	if task.Depth+1 > store.MaxTaskDepth {
		return Errf(KindDepthExceeded, "delegate: task depth %d at ceiling", task.Depth)
	}

	eligible, err := d.roles.ListTemporaryEligible(ctx, parentAgent.OrgID)
	if err != nil {
		return fmt.Errorf("delegate: load roles: %w", err)
	}
	if len(eligible) == 0 {
		return Errf(KindDepthExceeded, "delegate: no roles available for temporary agents")
	}

	input := prompt.ComposeDelegation(task, eligible)
	res, err := d.runner.Invoke(ctx, task.OrgID, brain.InvokeRequest{
		Command: d.brainCfg.Command,
		Args:    d.brainCfg.Args,
		Input:   input,
		Timeout: d.brainCfg.Timeout,
	})
	if err != nil {
		return &CycleError{Kind: Classify(err), Err: err}
	}
	if res.ExitCode != 0 {
		return Errf(KindProvider, "delegate: brain exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	pl, err := decodePlan(res.Stdout)
	if err != nil {
		return err
	}
	if n := len(pl.Subtasks); n < MinSubtasks || n > MaxSubtasks {
		return Errf(KindParseError, "delegate: %d subtasks outside [%d,%d]", n, MinSubtasks, MaxSubtasks)
	}
	roleByID := make(map[string]store.RoleData, len(eligible))
	for _, r := range eligible {
		roleByID[r.ID.String()] = r
	}

	idByTitle := make(map[string]uuid.UUID, len(pl.Subtasks))
	for _, s := range pl.Subtasks {
		idByTitle[s.Title] = store.GenNewID()
	}

	subtasks := make([]*store.TaskData, 0, len(pl.Subtasks))
	for i, s := range pl.Subtasks {
		role, ok := roleByID[s.RoleID]
		if !ok {
			return Errf(KindParseError, "delegate: role %s not eligible for temporary agents", s.RoleID)
		}
		tempID := parentAgent.ID
		temp := &store.AgentData{
			OrgID:            parentAgent.OrgID,
			TeamID:           parentAgent.TeamID,
			RoleID:           role.ID,
			Name:             fmt.Sprintf("%s-temp-%d", parentAgent.Name, i+1),
			Status:           store.AgentStatusIdle,
			Lifecycle:        store.AgentLifecycleTemporary,
			Depth:            1,
			ManagerID:        &tempID,
			CreatedByAgentID: &tempID,
		}
		if err := d.agents.Create(ctx, temp); err != nil {
			return fmt.Errorf("delegate: spawn temporary agent: %w", err)
		}

		blockedBy := make([]uuid.UUID, 0, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			if id, ok := idByTitle[dep]; ok {
				blockedBy = append(blockedBy, id)
			}
		}
		status := store.TaskStatusReady
		if len(blockedBy) > 0 {
			status = store.TaskStatusPending
		}
		parentID := task.ID
		agentID := temp.ID
		subtasks = append(subtasks, &store.TaskData{
			ID:              idByTitle[s.Title],
			OrgID:           task.OrgID,
			ProjectID:       task.ProjectID,
			GoalID:          task.GoalID,
			ParentTaskID:    &parentID,
			Title:           s.Title,
			Description:     s.Description,
			Type:            store.TaskTypeStandard,
			Status:          status,
			Priority:        task.Priority,
			Depth:           task.Depth + 1,
			AffectedFiles:   s.AffectedFiles,
			AssignedAgentID: &agentID,
			BlockedBy:       blockedBy,
		})
	}
	if err := d.tasks.CreateSubtasks(ctx, task.ID, store.TaskStatusInProgress, subtasks); err != nil {
		return fmt.Errorf("delegate: create subtasks: %w", err)
	}
	slog.Info("task delegated", "task_id", task.ID, "agent", parentAgent.Name, "subtasks", len(subtasks))
	return nil
}

// CleanupTemporaries soft-deletes the creator's temporary agents once every
// task they hold has settled.
func (d *Delegator) CleanupTemporaries(ctx context.Context, creatorID uuid.UUID) error {
	temps, err := d.agents.ListTemporaryByCreator(ctx, creatorID)
	if err != nil {
		return fmt.Errorf("delegate: list temporaries: %w", err)
	}
	for _, temp := range temps {
		busy, err := d.tasks.CountInProgressByAgent(ctx, temp.ID)
		if err != nil {
			return err
		}
		if busy > 0 {
			continue
		}
		if err := d.agents.SoftDelete(ctx, temp.ID); err != nil {
			return fmt.Errorf("delegate: retire %s: %w", temp.Name, err)
		}
		slog.Debug("temporary agent retired", "agent", temp.Name)
	}
	return nil
}
