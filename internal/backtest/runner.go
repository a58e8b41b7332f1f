package backtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/marketdata"
	"github.com/camuig/autotrader/internal/observability"
	"github.com/camuig/autotrader/internal/storage"
)

// Runner loads bars, runs the engine and persists the outcome.
type Runner struct {
	source  marketdata.HistoricalSource
	engine  *Engine
	store   storage.BacktestStore
	metrics *observability.Metrics
	logger  *logger.Logger
}

func NewRunner(source marketdata.HistoricalSource, engine *Engine, store storage.BacktestStore, metrics *observability.Metrics, log *logger.Logger) *Runner {
	return &Runner{source: source, engine: engine, store: store, metrics: metrics, logger: log}
}

func (r *Runner) Run(ctx context.Context, cfg Config) (*domain.BacktestResult, *Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	bars, err := r.source.HistoricalBars(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil, fmt.Errorf("no bars for %v between %s and %s",
			cfg.Symbols, cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"))
	}

	res, err := r.engine.Run(ctx, cfg, bars)
	if err != nil {
		return nil, nil, err
	}
	r.metrics.RecordBacktest()

	configJSON, err := json.Marshal(res.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("encode config: %w", err)
	}
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("encode metrics: %w", err)
	}

	record := &domain.BacktestResult{
		ID:          uuid.NewString(),
		StrategyID:  cfg.StrategyID,
		PortfolioID: res.Config.PortfolioID,
		StartDate:   cfg.StartDate,
		EndDate:     cfg.EndDate,
		TradeCount:  res.Metrics.TradeCount,
		TotalReturn: res.Metrics.TotalReturn,
		SharpeRatio: res.Metrics.SharpeRatio,
		MaxDrawdown: res.Metrics.MaxDrawdown,
		ConfigJSON:  string(configJSON),
		MetricsJSON: string(metricsJSON),
	}
	if r.store != nil {
		if err := r.store.SaveBacktest(ctx, record); err != nil {
			return nil, res, fmt.Errorf("save backtest: %w", err)
		}
	}
	r.logger.Info("backtest saved", "backtest_id", record.ID, "strategy_id", cfg.StrategyID)
	return record, res, nil
}
