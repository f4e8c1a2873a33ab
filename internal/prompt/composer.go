package prompt

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// ComposeInput carries the layered context for one task prompt.
type ComposeInput struct {
	Org   *store.OrganizationData
	Team  *store.TeamData // nil for teamless agents
	Role  *store.RoleData
	Agent *store.AgentData
	Docs  []store.DocumentData
	Task  *store.TaskData

	// Dependencies is the resolved blocked-by list, for layer 6.
	Dependencies []store.TaskData
}

// Compose assembles the six-layer prompt: organization, team, role, agent
// persona, injected knowledge, task context — in that order.
func Compose(in ComposeInput) string {
	var b strings.Builder

	writeOrgLayer(&b, in.Org)
	writeTeamLayer(&b, in.Team)
	writeRoleLayer(&b, in.Role)
	writePersonaLayer(&b, in.Agent)
	writeKnowledgeLayer(&b, in.Docs)
	writeTaskLayer(&b, in.Task, in.Dependencies)

	return b.String()
}

// ReviewChild summarizes one subtask for the review-mode prompt.
type ReviewChild struct {
	ID      string
	Title   string
	Status  string
	Summary string
}

// ComposeReview assembles the review-mode prompt: the first five layers are
// unchanged, layer 6 is replaced by the children enumeration plus the JSON
// decision contract.
func ComposeReview(in ComposeInput, children []ReviewChild) string {
	var b strings.Builder

	writeOrgLayer(&b, in.Org)
	writeTeamLayer(&b, in.Team)
	writeRoleLayer(&b, in.Role)
	writePersonaLayer(&b, in.Agent)
	writeKnowledgeLayer(&b, in.Docs)

	b.WriteString("## Review\n\n")
	fmt.Fprintf(&b, "You are reviewing the subtasks of: %s\n", in.Task.Title)
	if in.Task.Description != "" {
		b.WriteString(in.Task.Description + "\n")
	}
	b.WriteString("\nSubtasks:\n")
	for _, c := range children {
		fmt.Fprintf(&b, "- [%s] %s (%s)", c.ID, c.Title, c.Status)
		if c.Summary != "" {
			b.WriteString(": " + c.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Decide the outcome. Respond with a single JSON object:
{"action": "complete" | "rework" | "add_tasks" | "redirect",
 "reasoning": "...",
 "targets": ["subtask id", ...],
 "newTasks": [{"title": "...", "description": "...", "type": "standard"}, ...]}
"targets" is required for rework and redirect; "newTasks" for add_tasks and redirect.
`)
	return b.String()
}

func writeOrgLayer(b *strings.Builder, org *store.OrganizationData) {
	if org == nil {
		return
	}
	b.WriteString("## Organization\n\n")
	if org.Mission != "" {
		b.WriteString(org.Mission + "\n")
	}
	if org.Guardrails != "" {
		b.WriteString("\nGuardrails:\n" + org.Guardrails + "\n")
	}
	b.WriteString("\n")
}

func writeTeamLayer(b *strings.Builder, team *store.TeamData) {
	if team == nil {
		return
	}
	fmt.Fprintf(b, "## Team: %s\n\n", team.Name)
	if team.Charter != "" {
		b.WriteString(team.Charter + "\n")
	}
	b.WriteString("\n")
}

func writeRoleLayer(b *strings.Builder, role *store.RoleData) {
	if role == nil {
		return
	}
	fmt.Fprintf(b, "## Role: %s\n\n", role.Name)
	if role.SystemPrompt != "" {
		b.WriteString(role.SystemPrompt + "\n")
	}
	if len(role.Capabilities) > 0 {
		fmt.Fprintf(b, "Capabilities: %s\n", strings.Join(role.Capabilities, ", "))
	}
	b.WriteString("\n")
}

func writePersonaLayer(b *strings.Builder, agent *store.AgentData) {
	if agent == nil || agent.Persona == "" {
		return
	}
	b.WriteString("## Persona\n\n" + agent.Persona + "\n\n")
}

func writeKnowledgeLayer(b *strings.Builder, docs []store.DocumentData) {
	if len(docs) == 0 {
		return
	}
	b.WriteString("## Knowledge\n\n")
	for _, d := range docs {
		fmt.Fprintf(b, "### %s\n%s\n\n", d.Title, d.Content)
	}
}

func writeTaskLayer(b *strings.Builder, task *store.TaskData, deps []store.TaskData) {
	if task == nil {
		return
	}
	fmt.Fprintf(b, "## Task: %s\n\n", task.Title)
	if task.Description != "" {
		b.WriteString(task.Description + "\n")
	}
	if len(task.AffectedFiles) > 0 {
		fmt.Fprintf(b, "\nAffected files:\n- %s\n", strings.Join(task.AffectedFiles, "\n- "))
	}
	if len(task.RequiredSkills) > 0 {
		fmt.Fprintf(b, "\nRequired skills: %s\n", strings.Join(task.RequiredSkills, ", "))
	}
	if len(deps) > 0 {
		b.WriteString("\nDepends on:\n")
		for _, dep := range deps {
			fmt.Fprintf(b, "- %s (%s)\n", dep.Title, dep.Status)
		}
	}
}
