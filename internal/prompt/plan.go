package prompt

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// TeamMember summarizes one agent for planning prompts.
type TeamMember struct {
	Name     string
	RoleID   string
	RoleName string
	Load     int // current in-progress task count
}

// ComposeDistribution builds the team-epic planning prompt: the epic plus
// the team composition, demanding the subtask JSON plan.
func ComposeDistribution(epic *store.TaskData, team *store.TeamData, members []TeamMember) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Epic: %s\n\n", epic.Title)
	if epic.Description != "" {
		b.WriteString(epic.Description + "\n")
	}
	fmt.Fprintf(&b, "\n## Team: %s\n\n", team.Name)
	if team.Charter != "" {
		b.WriteString(team.Charter + "\n\n")
	}
	b.WriteString("Members:\n")
	for _, m := range members {
		fmt.Fprintf(&b, "- %s, role %s (id %s), %d tasks in progress\n", m.Name, m.RoleName, m.RoleID, m.Load)
	}
	b.WriteString(`
Split this epic into 3 to 7 subtasks covering the whole scope. Respond with a
single JSON object:
{"subtasks": [{"title": "...", "description": "...", "type": "standard",
  "roleId": "...", "dependencies": ["title of prerequisite subtask", ...],
  "priority": 3, "affectedFiles": ["path", ...]}, ...],
 "reasoning": "..."}
Every roleId must belong to a team member. Dependencies reference subtask
titles from this plan and must not form a cycle.
`)
	return b.String()
}

// ComposeDelegation builds the complexity-split prompt for the delegator:
// the oversized task plus the roles eligible for temporary agents.
func ComposeDelegation(task *store.TaskData, roles []store.RoleData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Task too large for one pass: %s\n\n", task.Title)
	if task.Description != "" {
		b.WriteString(task.Description + "\n")
	}
	b.WriteString("\nAvailable specialist roles:\n")
	for _, r := range roles {
		fmt.Fprintf(&b, "- %s (id %s): %s\n", r.Name, r.ID, strings.Join(r.Capabilities, ", "))
	}
	b.WriteString(`
Split the task into 3 to 7 subtasks, each handled by one specialist role.
Respond with a single JSON object:
{"subtasks": [{"title": "...", "description": "...", "type": "standard",
  "roleId": "...", "dependencies": ["title of prerequisite subtask", ...]}],
 "reasoning": "..."}
`)
	return b.String()
}

// ComposeGoalDecomposition builds the goal planning prompt used by the goal
// decomposer.
func ComposeGoalDecomposition(goal *store.GoalData, teams []store.TeamData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Goal: %s\n\n", goal.Title)
	if goal.Description != "" {
		b.WriteString(goal.Description + "\n")
	}
	if len(goal.KeyResults) > 0 {
		b.WriteString("\nKey results:\n- " + strings.Join(goal.KeyResults, "\n- ") + "\n")
	}
	b.WriteString("\nTeams:\n")
	for _, t := range teams {
		fmt.Fprintf(&b, "- %s (id %s)", t.Name, t.ID)
		if t.Charter != "" {
			b.WriteString(": " + t.Charter)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Plan this goal. Respond with a single JSON object:
{"projects": [{"name": "...", "description": "...", "workingDirectory": "..."}],
 "epics": [{"title": "...", "description": "...", "teamId": "...", "priority": 2}],
 "tasks": [{"title": "...", "description": "...", "priority": 3}],
 "reasoning": "..."}
"epics" become team-epics distributed by the team's manager; "tasks" are
standalone unit tasks for the organization pool.
`)
	return b.String()
}
