package prompt

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// TestComposeDistribution verifies the planning prompt carries the epic, the
// team composition with loads, and the JSON plan contract.
func TestComposeDistribution(t *testing.T) {
	epic := &store.TaskData{Title: "Payments v2", Description: "rebuild billing"}
	team := &store.TeamData{Name: "Billing", Charter: "Own money movement"}
	members := []TeamMember{
		{Name: "ada", RoleID: "r1", RoleName: "Backend", Load: 2},
		{Name: "lin", RoleID: "r2", RoleName: "Frontend", Load: 0},
	}

	out := ComposeDistribution(epic, team, members)

	for _, want := range []string{
		"## Epic: Payments v2",
		"rebuild billing",
		"## Team: Billing",
		"- ada, role Backend (id r1), 2 tasks in progress",
		"- lin, role Frontend (id r2), 0 tasks in progress",
		`"subtasks"`,
		"3 to 7 subtasks",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("distribution prompt missing %q:\n%s", want, out)
		}
	}
}

// TestComposeDelegation verifies the split prompt lists eligible specialist
// roles with their ids.
func TestComposeDelegation(t *testing.T) {
	roleID := uuid.New()
	task := &store.TaskData{Title: "Full-stack feature"}
	roles := []store.RoleData{
		{ID: roleID, Name: "DBA", Capabilities: []string{"postgres", "migrations"}},
	}

	out := ComposeDelegation(task, roles)

	if !strings.Contains(out, "Full-stack feature") {
		t.Errorf("task title missing:\n%s", out)
	}
	if !strings.Contains(out, "DBA (id "+roleID.String()+"): postgres, migrations") {
		t.Errorf("role line missing:\n%s", out)
	}
	if !strings.Contains(out, `"roleId"`) {
		t.Errorf("JSON contract missing roleId field")
	}
}

// TestComposeGoalDecomposition verifies key results and team ids make it into
// the goal planning prompt.
func TestComposeGoalDecomposition(t *testing.T) {
	teamID := uuid.New()
	goal := &store.GoalData{
		Title:       "Launch beta",
		Description: "public beta by Q4",
		KeyResults:  []string{"100 signups", "uptime 99.9"},
	}
	teams := []store.TeamData{{ID: teamID, Name: "Core", Charter: "Product core"}}

	out := ComposeGoalDecomposition(goal, teams)

	for _, want := range []string{
		"## Goal: Launch beta",
		"- 100 signups",
		"- uptime 99.9",
		"Core (id " + teamID.String() + "): Product core",
		`"epics"`,
		`"projects"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("goal prompt missing %q:\n%s", want, out)
		}
	}
}
