package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hivemind/internal/store"
	"github.com/nextlevelbuilder/hivemind/internal/store/pg"
)

var orgFlag string

func openStores() (*store.Stores, *sql.DB, error) {
	dsn, err := resolveDSN()
	if err != nil {
		return nil, nil, err
	}
	return pg.NewPGStores(store.StoreConfig{PostgresDSN: dsn})
}

// resolveOrg accepts an id or a name; with a single org the flag is optional.
func resolveOrg(ctx context.Context, stores *store.Stores, ref string) (*store.OrganizationData, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return stores.Orgs.Get(ctx, id)
	}
	orgs, err := stores.Orgs.List(ctx)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		if len(orgs) == 1 {
			return &orgs[0], nil
		}
		return nil, fmt.Errorf("multiple organizations exist; pass --org")
	}
	for i := range orgs {
		if orgs[i].Name == ref {
			return &orgs[i], nil
		}
	}
	return nil, fmt.Errorf("organization %q not found", ref)
}

func stopCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Emergency-stop autonomous execution for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			org, err := resolveOrg(ctx, stores, orgFlag)
			if err != nil {
				return err
			}
			if err := stores.Orgs.SetAutonomous(ctx, org.ID, false, &reason); err != nil {
				return err
			}
			paused, err := stores.Agents.PauseRunning(ctx, org.ID)
			if err != nil {
				return err
			}
			reset, err := stores.Tasks.ResetInProgress(ctx, org.ID)
			if err != nil {
				return err
			}
			// Live brain processes belong to the serve daemon; its execute
			// driver observes the flag and kills them on the next tick.
			slog.Info("emergency stop issued",
				"org", org.Name, "reason", reason, "agents_paused", paused, "tasks_reset", reset)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgFlag, "org", "", "organization id or name")
	cmd.Flags().StringVar(&reason, "reason", "operator stop", "stop reason recorded on the organization")
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume autonomous execution for a stopped organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			org, err := resolveOrg(ctx, stores, orgFlag)
			if err != nil {
				return err
			}
			if err := stores.Orgs.SetAutonomous(ctx, org.ID, true, nil); err != nil {
				return err
			}
			resumed, err := stores.Agents.ResumePaused(ctx, org.ID)
			if err != nil {
				return err
			}
			slog.Info("autonomous execution resumed", "org", org.Name, "agents", resumed)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgFlag, "org", "", "organization id or name")
	return cmd
}
