package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/observability"
	obslogger "github.com/smallbiznis/enrollment/internal/observability/logger"
	"github.com/smallbiznis/enrollment/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

const startTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "enrollctl",
		Short:         "Operator tooling for the enrollment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(billingCmd())
	rootCmd.AddCommand(commissionCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runApp starts an fx graph with the shared infrastructure plus opts, calls
// fn and stops the graph again. Targets are filled through fx.Populate in opts.
// Logs go to stderr so command output on stdout stays parseable.
func runApp(ctx context.Context, fn func(context.Context) error, opts ...fx.Option) error {
	base := []fx.Option{
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Decorate(func(cfg obslogger.Config) obslogger.Config {
			cfg.Output = "stderr"
			return cfg
		}),
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		db.Module,
		clock.Module,
	}
	app := fx.New(append(base, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}
