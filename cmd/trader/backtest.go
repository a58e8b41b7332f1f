package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/camuig/autotrader/internal/backtest"
	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/observability"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/sizing"
)

const dateLayout = "2006-01-02"

func newBacktestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a configured strategy over historical daily bars",
		Long: `backtest runs the rules of a strategy from the config file over
daily bars from the configured market data provider and stores the
result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategyID, _ := cmd.Flags().GetString("strategy")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			capital, _ := cmd.Flags().GetFloat64("capital")
			asJSON, _ := cmd.Flags().GetBool("json")

			bcfg, err := backtestConfig(a.cfg, strategyID, from, to, capital, time.Now())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			tinkoff, err := connectBroker(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			if tinkoff != nil {
				defer tinkoff.Stop()
			}
			source, err := marketSource(a.cfg, tinkoff, a.log)
			if err != nil {
				return err
			}
			repo, err := openRepository(a.cfg)
			if err != nil {
				return err
			}

			engine := backtest.NewEngine(rules.NewEngine(sizing.New(a.cfg.Sizing), a.log), a.log)
			runner := backtest.NewRunner(source, engine, repo, observability.NewMetrics("autotrader"), a.log)
			record, res, err := runner.Run(ctx, bcfg)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderBacktest(record, res))
			return nil
		},
	}

	cmd.Flags().StringP("strategy", "s", "", "strategy id from the config file")
	cmd.Flags().String("from", "", "first day, YYYY-MM-DD (default one year before --to)")
	cmd.Flags().String("to", "", "last day, YYYY-MM-DD (default today)")
	cmd.Flags().Float64("capital", 0, "initial capital (default backtest.initial_capital)")
	cmd.Flags().Bool("json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("strategy")

	return cmd
}

// backtestConfig builds the run configuration for a configured strategy.
func backtestConfig(cfg *config.Config, strategyID, from, to string, capital float64, now time.Time) (backtest.Config, error) {
	var strategy *domain.DeploymentConfig
	for i := range cfg.Strategies {
		if cfg.Strategies[i].StrategyID == strategyID {
			strategy = &cfg.Strategies[i]
			break
		}
	}
	if strategy == nil {
		return backtest.Config{}, domain.NotFound("strategy", strategyID)
	}

	loc := cfg.MOEXLocation()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if to != "" {
		t, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return backtest.Config{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		end = t
	}
	end = end.Add(24*time.Hour - time.Nanosecond)

	start := end.AddDate(-1, 0, 0).Add(time.Nanosecond)
	if from != "" {
		t, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return backtest.Config{}, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		start = t
	}

	if capital <= 0 {
		capital = cfg.Backtest.InitialCapital
	}

	return backtest.Config{
		StrategyID:     strategy.StrategyID,
		PortfolioID:    strategy.PortfolioID,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: capital,
		Symbols:        strategy.Symbols,
		Commission:     cfg.Backtest.Commission,
		Slippage:       cfg.Backtest.Slippage,
		WarmupBars:     cfg.Backtest.WarmupBars,
		Rules:          strategy.Rules,
	}, nil
}
