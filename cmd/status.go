package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-organization task and agent state",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			orgs, err := stores.Orgs.List(ctx)
			if err != nil {
				return err
			}
			for _, org := range orgs {
				state := "running"
				if !org.AutonomousExecutionEnabled {
					state = "stopped"
					if org.EmergencyStopReason != nil {
						state = fmt.Sprintf("stopped (%s)", *org.EmergencyStopReason)
					}
				}
				fmt.Printf("%s — %s\n", org.Name, state)

				counts, err := stores.Tasks.StatusCounts(ctx, org.ID)
				if err != nil {
					return err
				}
				for _, s := range []string{
					store.TaskStatusPending, store.TaskStatusReady,
					store.TaskStatusInProgress, store.TaskStatusInReview,
					store.TaskStatusReadyForReview, store.TaskStatusBlocked,
					store.TaskStatusCompleted, store.TaskStatusFailed,
					store.TaskStatusCancelled,
				} {
					if counts[s] > 0 {
						fmt.Printf("  tasks %-18s %d\n", s, counts[s])
					}
				}

				busy, err := stores.Agents.CountByStatus(ctx, org.ID,
					store.AgentStatusWorking, store.AgentStatusReviewing)
				if err != nil {
					return err
				}
				fmt.Printf("  agents busy           %d / %d\n", busy, org.MaxConcurrentAgents)

				approvals, err := stores.Approvals.ListPending(ctx, org.ID)
				if err != nil {
					return err
				}
				for _, a := range approvals {
					fmt.Printf("  approval %-10s task=%s: %s\n", a.Kind, shortID(a.TaskID), a.Reason)
				}
			}
			return nil
		},
	}
	return cmd
}
