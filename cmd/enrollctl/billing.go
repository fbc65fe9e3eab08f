package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/enrollment/internal/billing"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/lock"
	"github.com/smallbiznis/enrollment/internal/notification"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	"github.com/smallbiznis/enrollment/internal/redisclient"
	"github.com/smallbiznis/enrollment/internal/subscription"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func billingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Recurring billing operations",
	}
	cmd.AddCommand(billingRunOnceCmd())
	return cmd
}

func billingRunOnceCmd() *cobra.Command {
	var pushgateway string
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Charge every subscription that is due now, then exit",
		Long: `Runs one recurring billing pass outside the scheduler loop.

Concurrent runs are safe: each billing period is claimed before it is
charged, so a period charged by a running scheduler is skipped here.

With --pushgateway (or METRICS_PUSHGATEWAY_URL) the run's scheduler
metrics are pushed to a Prometheus Pushgateway before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sched *billing.Scheduler
				cfg   config.Config
			)
			return runApp(cmd.Context(), func(ctx context.Context) error {
				runErr := sched.RunOnce(ctx)

				endpoint := pushgateway
				if endpoint == "" {
					endpoint = cfg.MetricsPushgatewayURL
				}
				if endpoint != "" {
					grouping := map[string]string{"env": cfg.Environment}
					if err := obsmetrics.Push(ctx, endpoint, "enrollctl_billing", grouping, prometheus.DefaultGatherer); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "push metrics: %v\n", err)
					}
				}

				if runErr != nil {
					return runErr
				}
				fmt.Fprintln(cmd.OutOrStdout(), "billing run finished")
				return nil
			},
				redisclient.Module,
				lock.Module,
				gateway.Module,
				subscription.Module,
				notification.Module,
				billing.Module,
				fx.Populate(&sched, &cfg),
			)
		},
	}
	cmd.Flags().StringVar(&pushgateway, "pushgateway", "", "Prometheus Pushgateway URL for run metrics")
	return cmd
}
