package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camuig/autotrader/internal/ai"
	"github.com/camuig/autotrader/internal/broker"
	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/executor"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/observability"
	"github.com/camuig/autotrader/internal/orchestrator"
	"github.com/camuig/autotrader/internal/risk"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/scheduler"
	"github.com/camuig/autotrader/internal/sizing"
	"github.com/camuig/autotrader/internal/telegram"
	"github.com/camuig/autotrader/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the configured strategies and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(parent context.Context) error {
	cfg, log := a.cfg, a.log
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting autotrader",
		"broker", cfg.Broker.Mode,
		"market_data", cfg.MarketData.Provider,
		"strategies", len(cfg.Strategies),
	)

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}

	tinkoff, err := connectBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	if tinkoff != nil {
		defer func() {
			if err := tinkoff.Stop(); err != nil {
				log.Error("broker client stop error", "error", err)
			}
		}()
	}

	market, err := marketSource(cfg, tinkoff, log)
	if err != nil {
		return err
	}

	var brokerage executor.Brokerage
	if tinkoff != nil {
		brokerage = tinkoff
	} else {
		brokerage = broker.NewPaper(market, cfg.Broker.PaperCash, cfg.Broker.Slippage, log)
	}

	metrics := observability.NewMetrics("autotrader")
	runtime := config.NewRuntime(cfg.Runtime)

	notifier := telegram.NewNotifier(cfg.Telegram, log)
	go notifier.Run(ctx)

	gatekeeper := risk.NewGatekeeper(repo, brokerage, log)
	exec := executor.NewExecutor(brokerage, market, gatekeeper, repo, notifier, runtime, cfg.Risk.Defaults, metrics, log)

	var recommender ai.Recommender = ai.Noop{}
	if cfg.AI.Enabled {
		recommender = ai.NewDeepSeekClient(cfg.AI, log)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Scheduler:   scheduler.NewTicker(ctx, log),
		Market:      market,
		Portfolios:  brokerage,
		Engine:      rules.NewEngine(sizing.New(cfg.Sizing), log),
		Risk:        gatekeeper,
		Executor:    exec,
		Recommender: recommender,
		Store:       repo,
		Notifier:    notifier,
		Metrics:     metrics,
	}, orchestrator.Options{
		MaxConsecutiveErrors: cfg.Orchestrator.MaxConsecutiveErrors,
		LookbackDays:         cfg.MarketData.LookbackDays,
		TradingHoursOnly:     cfg.Orchestrator.TradingHoursOnly,
		Location:             cfg.MOEXLocation(),
		Sweeps:               cfg.Orchestrator.Sweeps(),
	}, log)
	orch.Start(ctx)

	for _, d := range cfg.Strategies {
		if tinkoff != nil {
			warnUntradable(tinkoff, d.StrategyID, d.Symbols, log)
		}
		if _, err := orch.Deploy(ctx, d); err != nil {
			log.Error("strategy deploy failed", "strategy_id", d.StrategyID, "error", err)
		}
	}

	server := web.NewServer(orch, exec, repo, runtime, metrics, cfg.Web, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("web server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	orch.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	select {
	case <-notifier.Done():
	case <-shutdownCtx.Done():
		log.Warn("notifier did not drain before timeout")
	}

	log.Info("autotrader stopped")
	return nil
}

// warnUntradable logs symbols the broker will refuse so misconfiguration is
// visible before the first tick.
func warnUntradable(t *broker.Tinkoff, strategyID string, symbols []string, log *logger.Logger) {
	ok, err := t.Tradable(symbols)
	if err != nil {
		log.Warn("tradability check failed", "strategy_id", strategyID, "error", err)
		return
	}
	for _, s := range symbols {
		if !ok[s] {
			log.Warn("symbol is not tradable", "strategy_id", strategyID, "symbol", s)
		}
	}
}
