package prompt

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

func fullComposeInput() ComposeInput {
	return ComposeInput{
		Org:   &store.OrganizationData{Mission: "Ship the product", Guardrails: "No force pushes"},
		Team:  &store.TeamData{Name: "Platform", Charter: "Own the build"},
		Role:  &store.RoleData{Name: "Backend", SystemPrompt: "You write Go services", Capabilities: []string{"go", "sql"}},
		Agent: &store.AgentData{Persona: "Terse and careful"},
		Docs:  []store.DocumentData{{Title: "Runbook", Content: "restart with systemctl"}},
		Task:  &store.TaskData{Title: "Add health endpoint", Description: "GET /healthz", AffectedFiles: []string{"server.go"}},
		Dependencies: []store.TaskData{
			{Title: "Define routing", Status: store.TaskStatusCompleted},
		},
	}
}

// TestCompose_LayerOrder verifies all six layers appear in their fixed order.
func TestCompose_LayerOrder(t *testing.T) {
	out := Compose(fullComposeInput())

	markers := []string{
		"## Organization",
		"## Team: Platform",
		"## Role: Backend",
		"## Persona",
		"## Knowledge",
		"## Task: Add health endpoint",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(out, m)
		if idx < 0 {
			t.Fatalf("missing layer marker %q in:\n%s", m, out)
		}
		if idx < last {
			t.Errorf("layer %q out of order", m)
		}
		last = idx
	}
}

// TestCompose_OmitsEmptyLayers verifies nil team and empty persona produce no
// headers, so a teamless agent gets a shorter prompt rather than blank
// sections.
func TestCompose_OmitsEmptyLayers(t *testing.T) {
	in := fullComposeInput()
	in.Team = nil
	in.Agent = &store.AgentData{}
	in.Docs = nil
	out := Compose(in)

	for _, absent := range []string{"## Team", "## Persona", "## Knowledge"} {
		if strings.Contains(out, absent) {
			t.Errorf("expected %q to be omitted, got:\n%s", absent, out)
		}
	}
	if !strings.Contains(out, "## Task: Add health endpoint") {
		t.Errorf("task layer must always be present")
	}
}

// TestCompose_TaskDetails verifies affected files and dependency lines land
// in the task layer.
func TestCompose_TaskDetails(t *testing.T) {
	out := Compose(fullComposeInput())

	if !strings.Contains(out, "server.go") {
		t.Errorf("affected files missing from prompt")
	}
	if !strings.Contains(out, "Define routing (completed)") {
		t.Errorf("dependency line missing from prompt:\n%s", out)
	}
	if !strings.Contains(out, "No force pushes") {
		t.Errorf("guardrails missing from prompt")
	}
}

// TestComposeReview verifies the review prompt swaps the task layer for the
// children enumeration and carries the JSON decision contract.
func TestComposeReview(t *testing.T) {
	in := fullComposeInput()
	children := []ReviewChild{
		{ID: "aaaa1111", Title: "Define routing", Status: "completed", Summary: "routes wired"},
		{ID: "bbbb2222", Title: "Write handler", Status: "failed"},
	}
	out := ComposeReview(in, children)

	if !strings.Contains(out, "reviewing the subtasks of: Add health endpoint") {
		t.Errorf("review header missing:\n%s", out)
	}
	if !strings.Contains(out, "[aaaa1111] Define routing (completed): routes wired") {
		t.Errorf("child with summary missing:\n%s", out)
	}
	if !strings.Contains(out, "[bbbb2222] Write handler (failed)") {
		t.Errorf("child without summary missing:\n%s", out)
	}
	for _, action := range []string{`"complete"`, `"rework"`, `"add_tasks"`, `"redirect"`} {
		if !strings.Contains(out, action) {
			t.Errorf("decision contract missing action %s", action)
		}
	}
	if strings.Contains(out, "## Task:") {
		t.Errorf("review prompt must not carry the execution task layer")
	}
}
