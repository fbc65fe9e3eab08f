package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/notification"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Inspect and resolve admin notifications",
	}
	cmd.AddCommand(notificationsListCmd())
	cmd.AddCommand(notificationsResolveCmd())
	return cmd
}

func notificationsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved notifications, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc notificationdomain.Service
			return runApp(cmd.Context(), func(ctx context.Context) error {
				items, err := svc.ListUnresolved(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(items)
				}
				return printNotifications(cmd, items)
			}, notification.Module, fx.Populate(&svc))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum notifications to list")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func notificationsResolveCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "resolve [id]",
		Short: "Mark a notification resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid notification id %q: %w", args[0], err)
			}

			var svc notificationdomain.Service
			return runApp(cmd.Context(), func(ctx context.Context) error {
				if err := svc.MarkResolved(ctx, id, by); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", id)
				return nil
			}, notification.Module, fx.Populate(&svc))
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "operator resolving the notification")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func printNotifications(cmd *cobra.Command, items []notificationdomain.Notification) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTAGE\tCORRELATION\tCREATED\tDETAIL")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.Stage,
			item.CorrelationID,
			item.CreatedAt.Format("2006-01-02T15:04:05Z"),
			item.ErrorDetail,
		)
	}
	return w.Flush()
}
