package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/prompt"
	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// Decomposer expands an active goal into projects, team-epics, and unit
// tasks via one brain invocation, then marks the goal autoDecomposed.
type Decomposer struct {
	goals    store.GoalStore
	projects store.ProjectStore
	teams    store.TeamStore
	tasks    store.TaskStore
	runner   *brain.Runner

	command string
	args    []string
	timeout time.Duration
}

func NewDecomposer(stores *store.Stores, runner *brain.Runner, command string, args []string, timeout time.Duration) *Decomposer {
	return &Decomposer{
		goals:    stores.Goals,
		projects: stores.Projects,
		teams:    stores.Teams,
		tasks:    stores.Tasks,
		runner:   runner,
		command:  command,
		args:     args,
		timeout:  timeout,
	}
}

// goalPlan is the decoded decomposition response.
type goalPlan struct {
	Projects []struct {
		Name             string `json:"name"`
		Description      string `json:"description"`
		WorkingDirectory string `json:"workingDirectory"`
	} `json:"projects"`
	Epics []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		TeamID      string `json:"teamId"`
		Priority    int    `json:"priority"`
	} `json:"epics"`
	Tasks []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
	} `json:"tasks"`
	Reasoning string `json:"reasoning"`
}

// Decompose plans one goal. A plan with no epics and no tasks is treated as
// a provider failure and the goal stays undecomposed for the next tick.
func (d *Decomposer) Decompose(ctx context.Context, goal *store.GoalData) error {
	teams, err := d.teams.ListByOrg(ctx, goal.OrgID)
	if err != nil {
		return fmt.Errorf("decompose: load teams: %w", err)
	}

	input := prompt.ComposeGoalDecomposition(goal, teams)
	res, err := d.runner.Invoke(ctx, goal.OrgID, brain.InvokeRequest{
		Command: d.command,
		Args:    d.args,
		Input:   input,
		Timeout: d.timeout,
	})
	if err != nil {
		return fmt.Errorf("decompose: invoke: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("decompose: brain exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	plan, err := decodeGoalPlan(res.Stdout)
	if err != nil {
		return err
	}
	if len(plan.Epics) == 0 && len(plan.Tasks) == 0 {
		return fmt.Errorf("decompose: empty plan for goal %s", goal.ID)
	}
	teamIDs := make(map[string]uuid.UUID, len(teams))
	for _, t := range teams {
		teamIDs[t.ID.String()] = t.ID
	}

	goalID := goal.ID
	var firstProject *uuid.UUID
	for _, p := range plan.Projects {
		project := &store.ProjectData{
			OrgID:            goal.OrgID,
			GoalID:           &goalID,
			Name:             p.Name,
			Description:      p.Description,
			WorkingDirectory: p.WorkingDirectory,
		}
		if err := d.projects.Create(ctx, project); err != nil {
			return fmt.Errorf("decompose: create project: %w", err)
		}
		if firstProject == nil {
			id := project.ID
			firstProject = &id
		}
	}

	created := 0
	for _, e := range plan.Epics {
		teamID, ok := teamIDs[e.TeamID]
		if !ok {
			slog.Warn("decomposition names unknown team, skipping epic",
				"goal_id", goal.ID, "team_id", e.TeamID, "epic", e.Title)
			continue
		}
		epic := &store.TaskData{
			OrgID:          goal.OrgID,
			GoalID:         &goalID,
			ProjectID:      firstProject,
			Title:          e.Title,
			Description:    e.Description,
			Type:           store.TaskTypeTeamEpic,
			Status:         store.TaskStatusPending,
			Priority:       clampPriority(e.Priority),
			AssignedTeamID: &teamID,
		}
		if err := d.tasks.Create(ctx, epic); err != nil {
			return fmt.Errorf("decompose: create epic: %w", err)
		}
		created++
	}
	for _, t := range plan.Tasks {
		task := &store.TaskData{
			OrgID:       goal.OrgID,
			GoalID:      &goalID,
			ProjectID:   firstProject,
			Title:       t.Title,
			Description: t.Description,
			Type:        store.TaskTypeStandard,
			Status:      store.TaskStatusReady,
			Priority:    clampPriority(t.Priority),
		}
		// Org-pool tasks carry no agent; the org itself has no team row, so
		// unit tasks land on the first team as their pool scope.
		if len(teams) > 0 {
			teamID := teams[0].ID
			task.AssignedTeamID = &teamID
		}
		if err := d.tasks.Create(ctx, task); err != nil {
			return fmt.Errorf("decompose: create task: %w", err)
		}
		created++
	}

	if err := d.goals.MarkDecomposed(ctx, goal.ID); err != nil {
		return fmt.Errorf("decompose: mark: %w", err)
	}
	slog.Info("goal decomposed",
		"goal_id", goal.ID, "projects", len(plan.Projects), "work_items", created)
	return nil
}

func decodeGoalPlan(stdout string) (*goalPlan, error) {
	text := strings.TrimSpace(stdout)
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}
	var plan goalPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("decompose: decode plan: %w", err)
	}
	return &plan, nil
}

func clampPriority(p int) int {
	if p < store.TaskPriorityP1 || p > store.TaskPriorityP4 {
		return store.TaskPriorityP3
	}
	return p
}
