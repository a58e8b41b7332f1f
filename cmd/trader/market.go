package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMarketCmd(a *app) *cobra.Command {
	marketCmd := &cobra.Command{
		Use:   "market",
		Short: "Inspect MOEX market data",
	}

	topCmd := &cobra.Command{
		Use:   "top",
		Short: "List the most traded TQBR shares of the day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			tickers, err := newMOEX(a.cfg, a.log).FetchTopTickers(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTickers(tickers))
			return nil
		},
	}
	topCmd.Flags().IntP("limit", "n", 10, "number of tickers")

	marketCmd.AddCommand(topCmd)
	return marketCmd
}
