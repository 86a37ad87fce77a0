package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Simplici0/launchpricing/internal/config"
	"github.com/Simplici0/launchpricing/internal/db"
	"github.com/Simplici0/launchpricing/internal/migrations"
	"github.com/Simplici0/launchpricing/internal/recompute"
	"github.com/Simplici0/launchpricing/internal/seed"
	"github.com/Simplici0/launchpricing/internal/store"
)

type rootOptions struct {
	dbPath  string
	workers int
}

func newRootCommand(cfg config.Config) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pricingctl",
		Short:         "Operate the launch pricing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.dbPath, "db", cfg.DBPath, "SQLite database path")
	pf.IntVar(&opts.workers, "workers", cfg.RecomputeWorkers, "parallel recompute workers")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newRecomputeCommand(opts),
		newBreakdownCommand(opts),
		newSummaryCommand(opts),
		newStatusCommand(opts),
	)
	return cmd
}

// withDB opens the database, applies migrations and hands fn a coordinator.
func (o *rootOptions) withDB(ctx context.Context, fn func(database *sql.DB, coord *recompute.Coordinator) error) (err error) {
	database, err := db.Open(o.dbPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, database.Close())
	}()

	if err := migrations.Up(ctx, database); err != nil {
		return err
	}
	coord := recompute.New(store.NewSQLite(database),
		recompute.WithLogger(slog.Default()),
		recompute.WithWorkers(o.workers),
	)
	return fn(database, coord)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(database *sql.DB, _ *recompute.Coordinator) error {
				version, err := migrations.Version(cmd.Context(), database)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
				return err
			})
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the demo launch and recompute it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(database *sql.DB, coord *recompute.Coordinator) error {
				stats, err := seed.Run(cmd.Context(), database)
				if err != nil {
					return err
				}
				res, err := coord.RecomputeScenario(cmd.Context(), seed.DemoScenarioID)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"inserts": stats.Inserts, "recompute": res})
			})
		},
	}
}

func newRecomputeCommand(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "recompute [scenario-id]",
		Short: "Recompute the valuations of one scenario, or of all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass a scenario id or --all")
			}
			return opts.withDB(cmd.Context(), func(_ *sql.DB, coord *recompute.Coordinator) error {
				if all {
					results, err := coord.RecomputeAll(cmd.Context())
					if printErr := printJSON(cmd, results); printErr != nil {
						return printErr
					}
					return err
				}
				res, err := coord.RecomputeScenario(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recompute every scenario")
	return cmd
}

func newBreakdownCommand(opts *rootOptions) *cobra.Command {
	var unitID string

	cmd := &cobra.Command{
		Use:   "breakdown <scenario-id>",
		Short: "Print the stored valuation breakdown of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(_ *sql.DB, coord *recompute.Coordinator) error {
				vals, err := coord.GetDetailedBreakdown(cmd.Context(), args[0], unitID)
				if err != nil {
					return err
				}
				return printJSON(cmd, vals)
			})
		},
	}
	cmd.Flags().StringVar(&unitID, "unit", "", "only this unit id")
	return cmd
}

func newSummaryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <scenario-id>",
		Short: "Print the VGV and phase totals of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(_ *sql.DB, coord *recompute.Coordinator) error {
				sum, err := coord.Summary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <scenario-id>",
		Short: "Print the last recompute outcome of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(_ *sql.DB, coord *recompute.Coordinator) error {
				st, err := coord.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}
