package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/logger"
)

// app carries what PersistentPreRunE loaded for the subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Rule-based automated trading for MOEX equities",
		Long: `trader deploys declarative trading strategies against a paper,
sandbox or live Tinkoff account, replays them over history and
manages open positions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["config"] == "none" {
				a.log = logger.NewWithWriter(os.Stderr, "info")
				return nil
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.NewWithWriter(os.Stderr, cfg.Logging.Level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newBacktestCmd(a))
	rootCmd.AddCommand(newRulesCmd(a))
	rootCmd.AddCommand(newCloseAllCmd(a))
	rootCmd.AddCommand(newMarketCmd(a))

	return rootCmd
}
