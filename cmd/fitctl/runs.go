package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"curvefit/adapters/postgres"
	"curvefit/domain/core"
	"curvefit/internal/migration"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the run history schema in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.db == nil {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			runner := migration.NewRunner()
			if err := runner.Run(cmd.Context(), e.db); err != nil {
				return err
			}
			e.log.Info().Str("version", runner.Version()).Msg("schema is up to date")
			return nil
		},
	}
}

func newRunsCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored fits, newest first, or every row of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.db == nil {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			repo := postgres.NewRunRepository(e.db)
			if len(args) == 1 {
				runID, err := core.ParseRunID(args[0])
				if err != nil {
					return err
				}
				records, err := repo.ListRun(cmd.Context(), runID.String())
				if err != nil {
					return err
				}
				return e.out.Encode(records)
			}
			records, err := repo.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return e.out.Encode(records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent runs to list")
	return cmd
}
