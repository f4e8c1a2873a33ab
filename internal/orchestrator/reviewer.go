package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/prompt"
	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// Review decision actions.
const (
	ActionComplete = "complete"
	ActionRework   = "rework"
	ActionAddTasks = "add_tasks"
	ActionRedirect = "redirect"
)

// Decision is the parsed review verdict.
type Decision struct {
	Action    string        `json:"action"`
	Reasoning string        `json:"reasoning"`
	Targets   []string      `json:"targets"`
	NewTasks  []SubtaskSpec `json:"newTasks"`
}

// Reviewer drives the parent-agent review of completed subtasks.
type Reviewer struct {
	stores    *store.Stores
	runner    *brain.Runner
	injector  *prompt.Injector
	escalator *Escalator
	delegator *Delegator
	brainCfg  BrainSettings
	maxReview int
}

func NewReviewer(stores *store.Stores, runner *brain.Runner, injector *prompt.Injector, escalator *Escalator, delegator *Delegator, brainCfg BrainSettings, maxReview int) *Reviewer {
	return &Reviewer{
		stores:    stores,
		runner:    runner,
		injector:  injector,
		escalator: escalator,
		delegator: delegator,
		brainCfg:  brainCfg,
		maxReview: maxReview,
	}
}

// Review judges the subtasks of parent and applies the decision. The review
// budget is checked before invoking the brain; past it the task is forced to
// human approval with kind quality.
func (r *Reviewer) Review(ctx context.Context, parent *store.TaskData, agent *store.AgentData) error {
	if parent.ReviewCount >= r.maxReview {
		_, err := r.escalator.Escalate(ctx, parent, agent, store.ApprovalKindQuality,
			fmt.Sprintf("review budget exhausted after %d rounds", parent.ReviewCount),
			LevelHumanApproval)
		return err
	}
	if err := r.stores.Tasks.Update(ctx, parent.ID, map[string]any{
		"status":       store.TaskStatusInReview,
		"review_count": parent.ReviewCount + 1,
	}); err != nil {
		return fmt.Errorf("review: mark in_review: %w", err)
	}

	children, err := r.stores.Tasks.ListSubtasks(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("review: load subtasks: %w", err)
	}

	input, err := r.composePrompt(ctx, parent, agent, children)
	if err != nil {
		return err
	}
	res, err := r.runner.Invoke(ctx, parent.OrgID, brain.InvokeRequest{
		Command: r.brainCfg.Command,
		Args:    r.brainCfg.Args,
		Input:   input,
		Timeout: r.brainCfg.Timeout,
	})
	if err != nil {
		return &CycleError{Kind: Classify(err), Err: err}
	}
	if res.ExitCode != 0 {
		return Errf(KindProvider, "review: brain exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	decision, err := decodeDecision(res.Stdout)
	if err != nil {
		_, escErr := r.escalator.Escalate(ctx, parent, agent, store.ApprovalKindQuality, err.Error(), LevelTeam)
		if escErr != nil {
			return escErr
		}
		return err
	}
	return r.apply(ctx, parent, agent, children, decision)
}

func decodeDecision(stdout string) (*Decision, error) {
	text := strings.TrimSpace(stdout)
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}
	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return nil, Errf(KindParseError, "review: decode decision: %v", err)
	}
	return &d, nil
}

func (r *Reviewer) apply(ctx context.Context, parent *store.TaskData, agent *store.AgentData, children []store.TaskData, d *Decision) error {
	slog.Info("review decision", "task_id", parent.ID, "action", d.Action, "reasoning", d.Reasoning)

	switch d.Action {
	case ActionComplete:
		if err := r.stores.Tasks.Complete(ctx, parent.ID); err != nil {
			return fmt.Errorf("review: complete: %w", err)
		}
		return r.delegator.CleanupTemporaries(ctx, agent.ID)

	case ActionRework:
		for _, target := range d.Targets {
			id, err := uuid.Parse(target)
			if err != nil {
				return Errf(KindParseError, "review: bad target id %q", target)
			}
			child := findChild(children, id)
			if child == nil {
				return Errf(KindParseError, "review: target %s is not a subtask", target)
			}
			guidance := child.Description + "\n\nReviewer guidance: " + d.Reasoning
			if err := r.stores.Tasks.Update(ctx, id, map[string]any{
				"status":       store.TaskStatusReady,
				"description":  guidance,
				"completed_at": nil,
			}); err != nil {
				return fmt.Errorf("review: rework %s: %w", id, err)
			}
		}
		return r.parentPending(ctx, parent)

	case ActionAddTasks:
		if err := r.createUnder(ctx, parent, d.NewTasks); err != nil {
			return err
		}
		return r.parentPending(ctx, parent)

	case ActionRedirect:
		for _, target := range d.Targets {
			id, err := uuid.Parse(target)
			if err != nil {
				return Errf(KindParseError, "review: bad target id %q", target)
			}
			if err := r.stores.Tasks.Update(ctx, id, map[string]any{
				"status": store.TaskStatusCancelled,
			}); err != nil {
				return fmt.Errorf("review: cancel %s: %w", id, err)
			}
		}
		if err := r.createUnder(ctx, parent, d.NewTasks); err != nil {
			return err
		}
		return r.parentPending(ctx, parent)
	}

	_, err := r.escalator.Escalate(ctx, parent, agent, store.ApprovalKindQuality,
		fmt.Sprintf("unknown review action %q", d.Action), LevelTeam)
	return err
}

// parentPending returns the parent to its waiting state after a rework or
// add_tasks verdict. A team epic waits in in_progress so the distribute
// driver does not plan it a second time; a delegated parent goes back to
// pending and resurfaces once its children settle.
func (r *Reviewer) parentPending(ctx context.Context, parent *store.TaskData) error {
	status := store.TaskStatusPending
	if parent.Type == store.TaskTypeTeamEpic {
		status = store.TaskStatusInProgress
	}
	return r.stores.Tasks.Update(ctx, parent.ID, map[string]any{
		"status": status,
	})
}

func (r *Reviewer) createUnder(ctx context.Context, parent *store.TaskData, specs []SubtaskSpec) error {
	if parent.Depth+1 > store.MaxTaskDepth {
		return Errf(KindFatal, "review: subtask depth would exceed %d", store.MaxTaskDepth)
	}
	parentID := parent.ID
	for _, s := range specs {
		taskType := s.Type
		if taskType == "" {
			taskType = store.TaskTypeStandard
		}
		priority := s.Priority
		if priority < store.TaskPriorityP1 || priority > store.TaskPriorityP4 {
			priority = parent.Priority
		}
		task := &store.TaskData{
			OrgID:          parent.OrgID,
			ProjectID:      parent.ProjectID,
			GoalID:         parent.GoalID,
			ParentTaskID:   &parentID,
			Title:          s.Title,
			Description:    s.Description,
			Type:           taskType,
			Status:         store.TaskStatusReady,
			Priority:       priority,
			Depth:          parent.Depth + 1,
			AffectedFiles:  s.AffectedFiles,
			AssignedTeamID: parent.AssignedTeamID,
		}
		if task.AssignedTeamID == nil {
			task.AssignedAgentID = parent.AssignedAgentID
		}
		if err := r.stores.Tasks.Create(ctx, task); err != nil {
			return fmt.Errorf("review: create subtask: %w", err)
		}
	}
	return nil
}

func (r *Reviewer) composePrompt(ctx context.Context, parent *store.TaskData, agent *store.AgentData, children []store.TaskData) (string, error) {
	in, err := loadComposeInput(ctx, r.stores, r.injector, parent, agent,
		knowledgeBudgetChars(r.brainCfg.ContextLimitTokens))
	if err != nil {
		return "", err
	}
	reviewChildren := make([]prompt.ReviewChild, 0, len(children))
	for _, c := range children {
		summary := ""
		if c.ErrorMessage != nil {
			summary = *c.ErrorMessage
		}
		reviewChildren = append(reviewChildren, prompt.ReviewChild{
			ID:      c.ID.String(),
			Title:   c.Title,
			Status:  c.Status,
			Summary: summary,
		})
	}
	return prompt.ComposeReview(in, reviewChildren), nil
}

func findChild(children []store.TaskData, id uuid.UUID) *store.TaskData {
	for i := range children {
		if children[i].ID == id {
			return &children[i]
		}
	}
	return nil
}

// knowledgeBudgetChars converts the brain's context window into the character
// budget granted to injected documents: half the window, at the same
// 4-chars-per-token estimate the cost projection uses. Zero means unlimited.
func knowledgeBudgetChars(contextLimitTokens int) int {
	if contextLimitTokens <= 0 {
		return 0
	}
	return contextLimitTokens * 4 / 2
}

// loadComposeInput gathers the layered context shared by the execute and
// review prompts. budgetChars bounds the combined size of injected documents.
func loadComposeInput(ctx context.Context, stores *store.Stores, injector *prompt.Injector, task *store.TaskData, agent *store.AgentData, budgetChars int) (prompt.ComposeInput, error) {
	in := prompt.ComposeInput{Task: task, Agent: agent}

	org, err := stores.Orgs.Get(ctx, agent.OrgID)
	if err != nil {
		return in, fmt.Errorf("compose: load org: %w", err)
	}
	in.Org = org

	if agent.TeamID != nil {
		team, err := stores.Teams.Get(ctx, *agent.TeamID)
		if err != nil {
			return in, fmt.Errorf("compose: load team: %w", err)
		}
		in.Team = team
	}
	role, err := stores.Roles.Get(ctx, agent.RoleID)
	if err != nil {
		return in, fmt.Errorf("compose: load role: %w", err)
	}
	in.Role = role

	docs, err := injector.Select(ctx, task, agent, task.ProjectID, budgetChars)
	if err != nil {
		return in, fmt.Errorf("compose: knowledge: %w", err)
	}
	in.Docs = docs

	for _, depID := range task.BlockedBy {
		dep, err := stores.Tasks.Get(ctx, depID)
		if err != nil {
			continue
		}
		in.Dependencies = append(in.Dependencies, *dep)
	}
	return in, nil
}
