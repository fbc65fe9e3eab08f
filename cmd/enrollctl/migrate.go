package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the enrollment schema to the configured database",
		Long: `Applies the embedded schema for DATABASE_TYPE.

Postgres runs the versioned migrations; sqlite applies the idempotent
local schema. Running it against an up-to-date database is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			return runApp(cmd.Context(), func(ctx context.Context) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.DBType)
				return nil
			}, migration.Module, fx.Populate(&cfg))
		},
	}
}
