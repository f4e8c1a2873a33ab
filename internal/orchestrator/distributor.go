package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/prompt"
	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// Distribution size bounds. Plans outside this range are rejected outright.
const (
	MinSubtasks = 3
	MaxSubtasks = 7
)

// SubtaskSpec is one planned subtask as proposed by the brain. Dependencies
// reference sibling titles within the same plan.
type SubtaskSpec struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Type          string   `json:"type"`
	RoleID        string   `json:"roleId"`
	Dependencies  []string `json:"dependencies"`
	Priority      int      `json:"priority"`
	AffectedFiles []string `json:"affectedFiles"`
}

// plan is the decoded distribution response.
type plan struct {
	Subtasks  []SubtaskSpec `json:"subtasks"`
	Reasoning string        `json:"reasoning"`
}

// Distributor expands a team-epic into assigned subtasks via one brain
// invocation. Creation is atomic with the epic's in_progress transition.
type Distributor struct {
	tasks     store.TaskStore
	agents    store.AgentStore
	teams     store.TeamStore
	approvals store.ApprovalStore
	runner    *brain.Runner
	brainCfg  BrainSettings
}

// BrainSettings carries the invocation shape shared by all brain callers.
// ContextLimitTokens bounds knowledge injection; zero means unlimited.
type BrainSettings struct {
	Command            string
	Args               []string
	Timeout            time.Duration
	ContextLimitTokens int
}

func NewDistributor(stores *store.Stores, runner *brain.Runner, brainCfg BrainSettings) *Distributor {
	return &Distributor{
		tasks:     stores.Tasks,
		agents:    stores.Agents,
		teams:     stores.Teams,
		approvals: stores.Approvals,
		runner:    runner,
		brainCfg:  brainCfg,
	}
}

// Distribute plans the epic and creates its subtasks. A rejected plan leaves
// the epic pending and records a quality approval request.
func (d *Distributor) Distribute(ctx context.Context, epic *store.TaskData, manager *store.AgentData) error {
	if epic.Type != store.TaskTypeTeamEpic || epic.AssignedTeamID == nil {
		return Errf(KindFatal, "distribute: task %s is not a team epic", epic.ID)
	}
	team, err := d.teams.Get(ctx, *epic.AssignedTeamID)
	if err != nil {
		return fmt.Errorf("distribute: load team: %w", err)
	}
	members, err := d.agents.ListByTeam(ctx, team.ID)
	if err != nil {
		return fmt.Errorf("distribute: load members: %w", err)
	}

	summaries := make([]prompt.TeamMember, 0, len(members))
	for _, m := range members {
		load, err := d.tasks.CountInProgressByAgent(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("distribute: load counts: %w", err)
		}
		summaries = append(summaries, prompt.TeamMember{
			Name: m.Name, RoleID: m.RoleID.String(), RoleName: m.RoleName, Load: load,
		})
	}

	input := prompt.ComposeDistribution(epic, team, summaries)
	res, err := d.runner.Invoke(ctx, epic.OrgID, brain.InvokeRequest{
		Command: d.brainCfg.Command,
		Args:    d.brainCfg.Args,
		Input:   input,
		Timeout: d.brainCfg.Timeout,
	})
	if err != nil {
		return &CycleError{Kind: Classify(err), Err: err}
	}
	if res.ExitCode != 0 {
		return Errf(KindProvider, "distribute: brain exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	pl, vErr := decodePlan(res.Stdout)
	if vErr == nil {
		vErr = validatePlan(pl, members)
	}
	if vErr != nil {
		if err := d.recordRejection(ctx, epic, manager, vErr); err != nil {
			return err
		}
		return vErr
	}

	subtasks, err := d.buildSubtasks(ctx, epic, pl.Subtasks, members)
	if err != nil {
		return err
	}
	if err := d.tasks.CreateSubtasks(ctx, epic.ID, store.TaskStatusInProgress, subtasks); err != nil {
		return fmt.Errorf("distribute: create subtasks: %w", err)
	}
	slog.Info("epic distributed",
		"epic_id", epic.ID, "team", team.Name, "subtasks", len(subtasks))
	return nil
}

func decodePlan(stdout string) (*plan, error) {
	text := strings.TrimSpace(stdout)
	// Tolerate prose around the object; the first balanced brace wins.
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}
	var pl plan
	if err := json.Unmarshal([]byte(text), &pl); err != nil {
		return nil, Errf(KindParseError, "distribute: decode plan: %v", err)
	}
	return &pl, nil
}

// validatePlan enforces the size bounds, role reachability, and acyclic
// dependencies (Kahn's topological sort).
func validatePlan(pl *plan, members []store.AgentData) error {
	n := len(pl.Subtasks)
	if n < MinSubtasks || n > MaxSubtasks {
		return Errf(KindParseError, "distribute: %d subtasks outside [%d,%d]", n, MinSubtasks, MaxSubtasks)
	}

	teamRoles := make(map[string]bool)
	for _, m := range members {
		teamRoles[m.RoleID.String()] = true
	}
	titles := make(map[string]int, n)
	for i, s := range pl.Subtasks {
		if s.Title == "" {
			return Errf(KindParseError, "distribute: subtask %d has no title", i)
		}
		if _, dup := titles[s.Title]; dup {
			return Errf(KindParseError, "distribute: duplicate subtask title %q", s.Title)
		}
		if s.RoleID != "" && !teamRoles[s.RoleID] {
			return Errf(KindParseError, "distribute: role %s not on team", s.RoleID)
		}
		titles[s.Title] = i
	}

	indegree := make([]int, n)
	edges := make([][]int, n)
	for i, s := range pl.Subtasks {
		for _, dep := range s.Dependencies {
			j, ok := titles[dep]
			if !ok {
				return Errf(KindParseError, "distribute: unknown dependency %q", dep)
			}
			edges[j] = append(edges[j], i)
			indegree[i]++
		}
	}
	var queue []int
	for i, deg := range indegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		visited++
		for _, w := range edges[v] {
			indegree[w]--
			if indegree[w] == 0 {
				queue = append(queue, w)
			}
		}
	}
	if visited != n {
		return Errf(KindDependencyCycle, "distribute: dependency cycle among subtasks")
	}
	return nil
}

// buildSubtasks materializes specs as TaskData, assigning each to a team
// member: matching role, lowest load, file affinity, then name order.
func (d *Distributor) buildSubtasks(ctx context.Context, epic *store.TaskData, specs []SubtaskSpec, members []store.AgentData) ([]*store.TaskData, error) {
	type candidate struct {
		agent store.AgentData
		load  int
		files map[string]bool
	}
	candidates := make([]candidate, 0, len(members))
	for _, m := range members {
		load, err := d.tasks.CountInProgressByAgent(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("distribute: load counts: %w", err)
		}
		recent, err := d.tasks.CompletedAffectedFilesSince(ctx, m.ID, time.Now().Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("distribute: affinity files: %w", err)
		}
		files := make(map[string]bool, len(recent))
		for _, f := range recent {
			files[f] = true
		}
		candidates = append(candidates, candidate{agent: m, load: load, files: files})
	}

	idByTitle := make(map[string]uuid.UUID, len(specs))
	for _, s := range specs {
		idByTitle[s.Title] = store.GenNewID()
	}

	subtasks := make([]*store.TaskData, 0, len(specs))
	for _, s := range specs {
		matching := make([]candidate, 0, len(candidates))
		for _, c := range candidates {
			if s.RoleID == "" || c.agent.RoleID.String() == s.RoleID {
				matching = append(matching, c)
			}
		}
		if len(matching) == 0 {
			matching = candidates
		}
		sort.Slice(matching, func(i, j int) bool {
			a, b := matching[i], matching[j]
			if a.load != b.load {
				return a.load < b.load
			}
			aff := func(c candidate) int {
				n := 0
				for _, f := range s.AffectedFiles {
					if c.files[f] {
						n++
					}
				}
				return n
			}
			if ai, bi := aff(a), aff(b); ai != bi {
				return ai > bi
			}
			return a.agent.Name < b.agent.Name
		})
		assignee := matching[0].agent

		blockedBy := make([]uuid.UUID, 0, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			blockedBy = append(blockedBy, idByTitle[dep])
		}
		status := store.TaskStatusReady
		if len(blockedBy) > 0 {
			status = store.TaskStatusPending
		}
		taskType := s.Type
		if taskType == "" {
			taskType = store.TaskTypeStandard
		}
		priority := s.Priority
		if priority < store.TaskPriorityP1 || priority > store.TaskPriorityP4 {
			priority = epic.Priority
		}
		epicID := epic.ID
		assigneeID := assignee.ID
		subtasks = append(subtasks, &store.TaskData{
			ID:              idByTitle[s.Title],
			OrgID:           epic.OrgID,
			ProjectID:       epic.ProjectID,
			GoalID:          epic.GoalID,
			ParentTaskID:    &epicID,
			Title:           s.Title,
			Description:     s.Description,
			Type:            taskType,
			Status:          status,
			Priority:        priority,
			Depth:           epic.Depth + 1,
			AffectedFiles:   s.AffectedFiles,
			AssignedAgentID: &assigneeID,
			BlockedBy:       blockedBy,
		})
	}
	return subtasks, nil
}

func (d *Distributor) recordRejection(ctx context.Context, epic *store.TaskData, manager *store.AgentData, cause error) error {
	req := &store.ApprovalRequestData{
		OrgID:  epic.OrgID,
		Kind:   store.ApprovalKindQuality,
		TaskID: epic.ID,
		Reason: cause.Error(),
		Status: store.ApprovalStatusPending,
	}
	if manager != nil {
		req.AgentID = manager.ID
	}
	if err := d.approvals.Create(ctx, req); err != nil {
		return fmt.Errorf("distribute: record rejection: %w", err)
	}
	slog.Warn("distribution rejected", "epic_id", epic.ID, "cause", cause)
	return nil
}
