package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// seedFile is the JSON5 shape the seed command consumes: one organization
// with its roles, teams, and agents. Agents name their role and team; the
// team names its manager agent.
type seedFile struct {
	Organization struct {
		Name                string   `json:"name"`
		Mission             string   `json:"mission"`
		Guardrails          string   `json:"guardrails"`
		MaxConcurrentAgents int      `json:"max_concurrent_agents"`
		DailyBudgetCents    *float64 `json:"daily_budget_cents"`
		MonthlyBudgetCents  *float64 `json:"monthly_budget_cents"`
	} `json:"organization"`
	Roles []struct {
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities"`
		Temporary    bool     `json:"available_for_temporary_agent"`
		SystemPrompt string   `json:"system_prompt"`
	} `json:"roles"`
	Teams []struct {
		Name    string `json:"name"`
		Charter string `json:"charter"`
		Manager string `json:"manager"` // agent name, wired after agents exist
	} `json:"teams"`
	Agents []struct {
		Name    string `json:"name"`
		Role    string `json:"role"`
		Team    string `json:"team"`
		Persona string `json:"persona"`
	} `json:"agents"`
	Projects []struct {
		Name              string `json:"name"`
		WorkingDirectory  string `json:"working_directory"`
		IntegrationBranch string `json:"integration_branch"`
	} `json:"projects"`
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bootstrap an organization, roles, teams, and agents from a seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var seed seedFile
			if err := json5.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}

			stores, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()
			return applySeed(cmd.Context(), stores, &seed)
		},
	}
	cmd.Flags().StringVar(&file, "file", "seed.json5", "seed file path")
	return cmd
}

func applySeed(ctx context.Context, stores *store.Stores, seed *seedFile) error {
	if seed.Organization.Name == "" {
		return fmt.Errorf("seed: organization.name is required")
	}
	maxAgents := seed.Organization.MaxConcurrentAgents
	if maxAgents <= 0 {
		maxAgents = 10
	}
	org := &store.OrganizationData{
		Name:                       seed.Organization.Name,
		Mission:                    seed.Organization.Mission,
		Guardrails:                 seed.Organization.Guardrails,
		AutonomousExecutionEnabled: true,
		MaxConcurrentAgents:        maxAgents,
		DailyBudgetCents:           seed.Organization.DailyBudgetCents,
		MonthlyBudgetCents:         seed.Organization.MonthlyBudgetCents,
		AlertPercent:               80,
		StopPercent:                100,
	}
	if err := stores.Orgs.Create(ctx, org); err != nil {
		return fmt.Errorf("seed: create org: %w", err)
	}

	roleIDs := make(map[string]uuid.UUID)
	for _, r := range seed.Roles {
		role := &store.RoleData{
			OrgID:                      org.ID,
			Name:                       r.Name,
			Capabilities:               r.Capabilities,
			AvailableForTemporaryAgent: r.Temporary,
			SystemPrompt:               r.SystemPrompt,
		}
		if err := stores.Roles.Create(ctx, role); err != nil {
			return fmt.Errorf("seed: create role %q: %w", r.Name, err)
		}
		roleIDs[r.Name] = role.ID
	}

	teamIDs := make(map[string]uuid.UUID)
	for _, t := range seed.Teams {
		team := &store.TeamData{
			OrgID:   org.ID,
			Name:    t.Name,
			Charter: t.Charter,
		}
		if err := stores.Teams.Create(ctx, team); err != nil {
			return fmt.Errorf("seed: create team %q: %w", t.Name, err)
		}
		teamIDs[t.Name] = team.ID
	}

	agentIDs := make(map[string]uuid.UUID)
	for _, a := range seed.Agents {
		roleID, ok := roleIDs[a.Role]
		if !ok {
			return fmt.Errorf("seed: agent %q names unknown role %q", a.Name, a.Role)
		}
		agent := &store.AgentData{
			OrgID:     org.ID,
			RoleID:    roleID,
			Name:      a.Name,
			Status:    store.AgentStatusIdle,
			Lifecycle: store.AgentLifecyclePermanent,
			Persona:   a.Persona,
		}
		if a.Team != "" {
			teamID, ok := teamIDs[a.Team]
			if !ok {
				return fmt.Errorf("seed: agent %q names unknown team %q", a.Name, a.Team)
			}
			agent.TeamID = &teamID
		}
		if err := stores.Agents.Create(ctx, agent); err != nil {
			return fmt.Errorf("seed: create agent %q: %w", a.Name, err)
		}
		agentIDs[a.Name] = agent.ID
	}

	// Managers wire last: the team row exists before its manager agent does.
	for _, t := range seed.Teams {
		if t.Manager == "" {
			continue
		}
		managerID, ok := agentIDs[t.Manager]
		if !ok {
			return fmt.Errorf("seed: team %q names unknown manager %q", t.Name, t.Manager)
		}
		if err := stores.Teams.Update(ctx, teamIDs[t.Name], map[string]any{
			"manager_agent_id": managerID,
		}); err != nil {
			return fmt.Errorf("seed: wire manager for %q: %w", t.Name, err)
		}
	}

	for _, p := range seed.Projects {
		branch := p.IntegrationBranch
		if branch == "" {
			branch = "main"
		}
		project := &store.ProjectData{
			OrgID:             org.ID,
			Name:              p.Name,
			WorkingDirectory:  p.WorkingDirectory,
			IntegrationBranch: branch,
		}
		if err := stores.Projects.Create(ctx, project); err != nil {
			return fmt.Errorf("seed: create project %q: %w", p.Name, err)
		}
	}

	slog.Info("seed applied",
		"org", org.Name, "roles", len(seed.Roles), "teams", len(seed.Teams),
		"agents", len(seed.Agents), "projects", len(seed.Projects))
	return nil
}
