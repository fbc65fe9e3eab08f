package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/smallbiznis/enrollment/internal/commission/calculator"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func commissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commission",
		Short: "Inspect the commission table",
	}
	cmd.AddCommand(commissionRatesCmd())
	cmd.AddCommand(commissionQuoteCmd())
	return cmd
}

// The commission table is file configuration, so these commands load it
// directly and need no database.
func commissionRatesCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Print the effective commission table",
		RunE: func(cmd *cobra.Command, args []string) error {
			calc, err := loadCalculator(dir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLAN TIER\tCOVERAGE\tAMOUNT")
			for _, rate := range calc.Rates() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", rate.Tier, rate.Coverage, formatMinor(rate.Amount, calc.Currency()))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory holding commission.yml (defaults to the service search path)")
	return cmd
}

func commissionQuoteCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "quote [plan-tier] [coverage-type]",
		Short: "Print the commission for one plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			calc, err := loadCalculator(dir)
			if err != nil {
				return err
			}
			amount, err := calc.Calculate(args[0], args[1])
			if err != nil {
				return fmt.Errorf("%s / %s: %w", args[0], args[1], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatMinor(amount.Value, amount.Currency))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory holding commission.yml (defaults to the service search path)")
	return cmd
}

func loadCalculator(dir string) (*calculator.Calculator, error) {
	var (
		holder *config.CommissionTableHolder
		err    error
	)
	if dir != "" {
		holder, err = config.NewCommissionTableHolderFromPaths(zap.NewNop(), false, dir)
	} else {
		holder, err = config.NewCommissionTableHolder(zap.NewNop())
	}
	if err != nil {
		return nil, err
	}
	return calculator.New(holder.Get())
}

func formatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}
