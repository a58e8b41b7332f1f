package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
)

func newCloseAllCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closeall",
		Short: "Sell every open position on the broker account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			out := cmd.OutOrStdout()

			if a.cfg.Broker.Mode == config.BrokerPaper {
				return fmt.Errorf("closeall needs a sandbox or live broker, got %q", a.cfg.Broker.Mode)
			}

			ctx := cmd.Context()
			tinkoff, err := connectBroker(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer tinkoff.Stop()

			account := a.cfg.Broker.AccountID
			portfolio, err := tinkoff.PortfolioSnapshot(ctx, account)
			if err != nil {
				return fmt.Errorf("get portfolio: %w", err)
			}

			if len(portfolio.Positions) == 0 {
				fmt.Fprintln(out, "No open positions.")
				return nil
			}

			fmt.Fprintf(out, "Found %d position(s):\n\n", len(portfolio.Positions))
			for _, p := range portfolio.Positions {
				fmt.Fprintf(out, "  %-8s %6d shares, avg %.2f, last %.2f, P&L %s\n",
					p.Symbol, p.Quantity, p.AvgPrice, p.CurrentPrice,
					signed(p.PnL(), fmt.Sprintf("%.2f", p.PnL())))
			}
			fmt.Fprintln(out)

			if dryRun {
				fmt.Fprintln(out, infoStyle.Render("Dry run, no orders placed."))
				return nil
			}

			var closed, failed int
			for _, p := range portfolio.Positions {
				if p.Quantity <= 0 {
					continue
				}
				fill, err := tinkoff.Execute(ctx, account, p.Symbol, domain.SideSell, p.Quantity)
				if err != nil {
					fmt.Fprintf(out, "  %s %s: sell: %v\n", errorStyle.Render("[FAIL]"), p.Symbol, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "  %s %s: sold %d @ %.2f\n", successStyle.Render("[OK]  "), p.Symbol, fill.Quantity, fill.Price)
				closed++
			}

			fmt.Fprintf(out, "\nDone: %d closed, %d failed.\n", closed, failed)
			if failed > 0 {
				return fmt.Errorf("%d position(s) could not be closed", failed)
			}
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "show positions without closing")
	return cmd
}
