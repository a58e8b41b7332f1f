// Package backtest replays trading rules over historical bars through a
// virtual portfolio and derives performance and tail-risk statistics.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/indicators"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/rules"
)

// indicatorWindow caps the trailing history handed to the indicators.
const indicatorWindow = 120

type Config struct {
	StrategyID     string               `json:"strategy_id"`
	PortfolioID    string               `json:"portfolio_id"`
	StartDate      time.Time            `json:"start_date"`
	EndDate        time.Time            `json:"end_date"`
	InitialCapital float64              `json:"initial_capital"`
	Symbols        []string             `json:"symbols"`
	Commission     float64              `json:"commission"`
	Slippage       float64              `json:"slippage"`
	WarmupBars     int                  `json:"warmup_bars"`
	Rules          []domain.TradingRule `json:"rules"`
}

func (c Config) Validate() error {
	var reasons []string
	if c.InitialCapital <= 0 {
		reasons = append(reasons, "initial capital must be positive")
	}
	if !c.EndDate.After(c.StartDate) {
		reasons = append(reasons, "end date must be after start date")
	}
	if c.Commission < 0 || c.Commission >= 1 {
		reasons = append(reasons, "commission must be a fraction within [0, 1)")
	}
	if c.Slippage < 0 || c.Slippage >= 1 {
		reasons = append(reasons, "slippage must be a fraction within [0, 1)")
	}
	if c.WarmupBars < 0 {
		reasons = append(reasons, "warmup bars must not be negative")
	}
	if err := rules.ValidateAll(c.Rules); err != nil {
		reasons = append(reasons, err.(*domain.ValidationError).Reasons...)
	}
	if len(reasons) > 0 {
		return &domain.ValidationError{Reasons: reasons}
	}
	return nil
}

type Result struct {
	Config        Config        `json:"config"`
	Metrics       Metrics       `json:"metrics"`
	Trades        []TradeDetail `json:"trades"`
	EquityCurve   []Point       `json:"equity_curve"`
	DrawdownCurve []Point       `json:"drawdown_curve"`
	FinalCash     float64       `json:"final_cash"`
	Positions     []Position    `json:"positions"`
	Bars          int           `json:"bars"`
}

type Engine struct {
	rules  *rules.Engine
	logger *logger.Logger
}

func NewEngine(re *rules.Engine, log *logger.Logger) *Engine {
	return &Engine{rules: re, logger: log}
}

// Run replays bars in timestamp order. A cancelled context discards the run
// and returns ctx.Err().
func (e *Engine) Run(ctx context.Context, cfg Config, bars []domain.Bar) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PortfolioID == "" {
		cfg.PortfolioID = "backtest"
	}

	series := PrepareBars(bars, cfg.Symbols, cfg.StartDate, cfg.EndDate)
	pf := NewPortfolio(cfg.InitialCapital, cfg.Commission, cfg.Slippage)
	history := make(map[string][]domain.Bar)
	prices := make(map[string]float64)

	e.logger.Info("backtest started",
		"strategy_id", cfg.StrategyID,
		"bars", len(series),
		"rules", len(cfg.Rules),
	)

	for start := 0; start < len(series); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start
		ts := series[start].Timestamp
		for end < len(series) && series[end].Timestamp.Equal(ts) {
			end++
		}
		group := series[start:end]
		start = end

		for _, b := range group {
			prices[b.Symbol] = b.Close
		}
		for _, b := range group {
			prev := history[b.Symbol]
			history[b.Symbol] = append(prev, b)
			if len(history[b.Symbol]) <= cfg.WarmupBars {
				continue
			}
			e.step(cfg, pf, b, prev, history[b.Symbol])
		}
		pf.Update(ts, prices)
	}

	res := &Result{
		Config:        cfg,
		Metrics:       ComputeMetrics(cfg.InitialCapital, pf.EquityCurve, pf.DrawdownCurve, pf.Trades),
		Trades:        pf.Trades,
		EquityCurve:   pf.EquityCurve,
		DrawdownCurve: pf.DrawdownCurve,
		FinalCash:     pf.Cash,
		Bars:          len(series),
	}
	for _, pos := range pf.Positions {
		res.Positions = append(res.Positions, *pos)
	}
	sort.Slice(res.Positions, func(i, j int) bool { return res.Positions[i].Symbol < res.Positions[j].Symbol })

	e.logger.Info("backtest finished",
		"strategy_id", cfg.StrategyID,
		"trades", len(pf.Trades),
		"total_return", res.Metrics.TotalReturn,
		"max_drawdown", res.Metrics.MaxDrawdown,
	)
	return res, nil
}

// step evaluates the rules for one bar and fills the selected intents.
func (e *Engine) step(cfg Config, pf *Portfolio, bar domain.Bar, prev, hist []domain.Bar) {
	if len(hist) > indicatorWindow {
		hist = hist[len(hist)-indicatorWindow:]
	}
	snap := pf.Snapshot(cfg.PortfolioID)
	tc := &domain.TradingContext{
		Symbol:         bar.Symbol,
		CurrentPrice:   bar.Close,
		PortfolioValue: snap.TotalValue,
		CashBalance:    snap.Cash,
		Positions:      snap.Positions,
		Technical:      indicators.Compute(hist),
		Performance:    pf.Stats(),
	}
	if len(prev) > 0 {
		tc.PreviousClose = prev[len(prev)-1].Close
	}

	decision := e.rules.Decide(cfg.Rules, tc)
	for _, in := range decision.Executable() {
		price, ok := fillPrice(in, bar)
		if !ok {
			continue
		}
		switch in.Side {
		case domain.SideBuy:
			pf.Enter(bar.Timestamp, in.Symbol, in.Quantity, price, in.RuleID)
		case domain.SideSell:
			pf.Exit(bar.Timestamp, in.Symbol, in.Quantity, price, in.RuleID)
		}
	}
}

// fillPrice decides whether an intent fills within the bar's range. Market
// intents fill at the close; limit and stop intents at their trigger.
func fillPrice(in rules.ActionResult, bar domain.Bar) (float64, bool) {
	low, high := bar.Low, bar.High
	if low <= 0 || high <= 0 {
		low, high = bar.Close, bar.Close
	}
	switch in.PriceType {
	case domain.PriceLimit:
		if in.Side == domain.SideBuy {
			return in.Price, low <= in.Price
		}
		return in.Price, high >= in.Price
	case domain.PriceStop:
		if in.Side == domain.SideBuy {
			return in.Price, high >= in.Price
		}
		return in.Price, low <= in.Price
	}
	return bar.Close, bar.Close > 0
}

// PrepareBars keeps bars of the wanted symbols inside [start, end], drops
// duplicate symbol/timestamp pairs and sorts by timestamp then symbol.
func PrepareBars(bars []domain.Bar, symbols []string, start, end time.Time) []domain.Bar {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]bool, len(bars))
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if len(want) > 0 && !want[b.Symbol] {
			continue
		}
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		k := key{b.Symbol, b.Timestamp.UnixNano()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: %d trades, return %.2f%%, sharpe %.2f, max drawdown %.2f%%",
		r.Config.StrategyID, r.Metrics.TradeCount, r.Metrics.TotalReturn*100,
		r.Metrics.SharpeRatio, r.Metrics.MaxDrawdown*100)
}
