package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camuig/autotrader/internal/ai"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/executor"
	"github.com/camuig/autotrader/internal/indicators"
	"github.com/camuig/autotrader/internal/risk"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/scheduler"
	"github.com/camuig/autotrader/internal/storage"
)

type tickSummary struct {
	symbols   int
	triggered int
	submitted int
	emergency bool
	decisions []decisionLog
}

type decisionLog struct {
	Symbol    string               `json:"symbol"`
	RuleID    string               `json:"rule_id,omitempty"`
	Triggered int                  `json:"triggered"`
	Intents   []rules.ActionResult `json:"intents,omitempty"`
	OrderIDs  []string             `json:"order_ids,omitempty"`
	Skipped   string               `json:"skipped,omitempty"`
}

// Tick runs one evaluation cycle. Overlapping ticks of the same instance are
// skipped, as are ticks of instances that are not running.
func (o *Orchestrator) Tick(ctx context.Context, inst *Instance) {
	if !inst.tickMu.TryLock() {
		o.logger.Warn("previous tick still running, skipping", "strategy_id", inst.StrategyID)
		return
	}
	defer inst.tickMu.Unlock()

	if inst.Status() != domain.InstanceRunning {
		return
	}
	if o.opts.TradingHoursOnly && !scheduler.WithinTradingHours(o.now(), o.opts.Location) {
		o.logger.Debug("outside trading hours, skipping tick", "strategy_id", inst.StrategyID)
		return
	}

	start := o.now()
	summary, err := o.safeTick(ctx, inst)
	if err != nil && ctx.Err() != nil {
		o.logger.Info("tick aborted", "strategy_id", inst.StrategyID, "error", err)
		return
	}
	o.Metrics.RecordTick(inst.StrategyID, o.now().Sub(start).Seconds(), err)
	o.saveTickLog(ctx, inst, summary, err)

	inst.mu.Lock()
	inst.lastTickAt = start
	inst.mu.Unlock()

	if err != nil {
		o.recordError(inst, err)
		return
	}
	inst.mu.Lock()
	inst.errorCount = 0
	inst.mu.Unlock()
}

func (o *Orchestrator) safeTick(ctx context.Context, inst *Instance) (summary *tickSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in strategy tick", "strategy_id", inst.StrategyID, "panic", fmt.Sprint(r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.runTick(ctx, inst)
}

func (o *Orchestrator) runTick(ctx context.Context, inst *Instance) (*tickSummary, error) {
	cfg := inst.Config
	summary := &tickSummary{}

	breached, drawdown, err := o.Risk.CheckEmergencyStop(ctx, cfg.PortfolioID, cfg.RiskLimits.EmergencyDrawdown)
	if err != nil {
		return summary, fmt.Errorf("emergency check: %w", err)
	}
	if breached {
		summary.emergency = true
		o.emergencyStop(inst, drawdown)
		return summary, nil
	}

	portfolio, err := o.Portfolios.PortfolioSnapshot(ctx, cfg.PortfolioID)
	if err != nil {
		return summary, fmt.Errorf("get portfolio: %w", err)
	}

	active, err := o.Store.ListRules(ctx, storage.RuleFilter{StrategyID: inst.StrategyID, ActiveOnly: true})
	if err != nil {
		return summary, fmt.Errorf("load rules: %w", err)
	}

	inst.mu.Lock()
	stats := inst.perf.Stats()
	inst.mu.Unlock()

	for _, symbol := range cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.symbols++

		entry, err := o.evaluateSymbol(ctx, inst, symbol, active, portfolio, stats)
		summary.decisions = append(summary.decisions, entry)
		summary.triggered += entry.Triggered
		summary.submitted += len(entry.OrderIDs)
		if err != nil {
			return summary, err
		}

		// later symbols see the cash and positions this one changed
		if len(entry.OrderIDs) > 0 {
			if fresh, err := o.Portfolios.PortfolioSnapshot(ctx, cfg.PortfolioID); err == nil {
				portfolio = fresh
			}
		}
	}

	if err := o.updatePerformance(ctx, inst, portfolio); err != nil {
		return summary, err
	}
	if err := o.Store.SavePortfolioSnapshot(ctx, storage.NewPortfolioSnapshot(portfolio)); err != nil {
		o.logger.Error("save portfolio snapshot", "portfolio_id", cfg.PortfolioID, "error", err)
	}

	o.logger.Info("tick completed",
		"strategy_id", inst.StrategyID,
		"symbols", summary.symbols,
		"triggered", summary.triggered,
		"submitted", summary.submitted,
	)
	return summary, nil
}

func (o *Orchestrator) evaluateSymbol(
	ctx context.Context,
	inst *Instance,
	symbol string,
	active []domain.TradingRule,
	portfolio *domain.PortfolioSnapshot,
	stats *domain.PerformanceStats,
) (decisionLog, error) {
	entry := decisionLog{Symbol: symbol}

	price, err := o.Market.CurrentPrice(ctx, symbol)
	if err != nil || price <= 0 {
		o.logger.Warn("no price, skipping symbol", "strategy_id", inst.StrategyID, "symbol", symbol, "error", err)
		entry.Skipped = "no price"
		return entry, nil
	}

	tc := &domain.TradingContext{
		Symbol:         symbol,
		CurrentPrice:   price,
		PortfolioValue: portfolio.TotalValue,
		CashBalance:    portfolio.Cash,
		Positions:      portfolio.Positions,
		Performance:    stats,
	}

	now := o.now()
	bars, err := o.Market.HistoricalBars(ctx, []string{symbol}, now.AddDate(0, 0, -o.opts.LookbackDays), now)
	if err != nil {
		o.logger.Warn("historical bars unavailable", "symbol", symbol, "error", err)
	} else {
		tc.Technical = indicators.Compute(bars)
		tc.PreviousClose = previousClose(bars, now)
	}

	req := &ai.AnalysisRequest{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: tc.PreviousClose,
		Technical:     tc.Technical,
		Cash:          portfolio.Cash,
		TotalValue:    portfolio.TotalValue,
	}
	if pos, ok := portfolio.Position(symbol); ok {
		req.Position = &pos
	}
	rec, err := o.Recommender.Recommend(ctx, req)
	if err != nil {
		o.logger.Warn("recommendation unavailable", "symbol", symbol, "error", err)
	} else {
		tc.Recommendation = rec
	}

	decision := o.Engine.Decide(active, tc)
	entry.Triggered = len(decision.Triggered)
	if decision.Selected == nil {
		return entry, nil
	}
	entry.RuleID = decision.Selected.ID
	entry.Intents = decision.Intents
	o.Metrics.RecordRuleTriggered(string(decision.Selected.RuleType))

	volatility := 0.0
	if tc.Technical != nil {
		volatility = tc.Technical.Volatility
	}
	for _, intent := range decision.Executable() {
		order, err := o.submit(ctx, inst, intent, tc, portfolio, volatility)
		if err != nil {
			return entry, err
		}
		if order != nil {
			entry.OrderIDs = append(entry.OrderIDs, order.ID)
		}
	}
	return entry, nil
}

// submit risk-gates one intent, shrinking it once to the suggested quantity,
// lets the adjuster resize it and hands it to the executor.
func (o *Orchestrator) submit(
	ctx context.Context,
	inst *Instance,
	intent rules.ActionResult,
	tc *domain.TradingContext,
	portfolio *domain.PortfolioSnapshot,
	volatility float64,
) (*domain.Order, error) {
	cfg := inst.Config
	qty := intent.Quantity
	req := risk.TradeRequest{
		PortfolioID: cfg.PortfolioID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Quantity:    qty,
		Price:       intent.Price,
		Volatility:  volatility,
		Portfolio:   portfolio,
	}

	decision, err := o.Risk.ValidateTrade(ctx, req, cfg.RiskLimits)
	if err != nil {
		return nil, fmt.Errorf("risk check %s: %w", intent.Symbol, err)
	}
	if !decision.IsAllowed && decision.AdjustedQuantity > 0 && decision.AdjustedQuantity < qty {
		qty = decision.AdjustedQuantity
		req.Quantity = qty
		if decision, err = o.Risk.ValidateTrade(ctx, req, cfg.RiskLimits); err != nil {
			return nil, fmt.Errorf("risk check %s: %w", intent.Symbol, err)
		}
	}
	if !decision.IsAllowed {
		o.logger.Info("trade blocked by risk", "strategy_id", inst.StrategyID, "symbol", intent.Symbol, "reason", decision.Reason)
		return nil, nil
	}

	adj, err := o.Adjuster.Adjust(ctx, risk.AdjustRequest{
		StrategyID:     inst.StrategyID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       qty,
		Price:          intent.Price,
		Volatility:     volatility,
		Recommendation: tc.Recommendation,
	})
	if err != nil {
		o.logger.Warn("risk adjuster failed, keeping quantity", "symbol", intent.Symbol, "error", err)
		adj = risk.Adjustment{Quantity: qty, RiskLevel: risk.LevelForVolatility(volatility)}
	}
	if adj.Quantity <= 0 {
		o.logger.Info("trade dropped by adjuster", "symbol", intent.Symbol, "reason", adj.Reason)
		return nil, nil
	}
	if adj.Quantity > qty {
		adj.Quantity = qty
	}

	in := executor.Intent{
		PortfolioID: cfg.PortfolioID,
		StrategyID:  inst.StrategyID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Quantity:    adj.Quantity,
		PriceType:   intent.PriceType,
		Price:       intent.Price,
		Volatility:  volatility,
		RuleID:      intent.RuleID,
		RiskLevel:   adj.RiskLevel,
		Automated:   true,
	}
	if rec := tc.Recommendation; rec != nil {
		in.RecommendationID = rec.ID
		in.Confidence = rec.Confidence
	}

	order, err := o.Executor.Submit(ctx, in)
	if errors.Is(err, domain.ErrAutomationOff) {
		o.logger.Info("automation off, intent not submitted", "strategy_id", inst.StrategyID, "symbol", intent.Symbol)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", intent.Symbol, err)
	}
	return order, nil
}

// previousClose is the close of the last bar before today.
func previousClose(bars []domain.Bar, now time.Time) float64 {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Timestamp.Before(today) {
			return bars[i].Close
		}
	}
	return 0
}

// emergencyStop pauses the breaching instance and then stops every instance
// trading the same portfolio.
func (o *Orchestrator) emergencyStop(inst *Instance, drawdown float64) {
	inst.mu.Lock()
	// running -> paused is always legal
	if inst.status == domain.InstanceRunning {
		inst.status = domain.InstancePaused
	}
	inst.clearTimer()
	inst.mu.Unlock()

	o.Metrics.RecordEmergencyStop()
	o.logger.Error("emergency stop",
		"strategy_id", inst.StrategyID,
		"portfolio_id", inst.Config.PortfolioID,
		"drawdown", drawdown,
	)
	o.notify(domain.EventEmergencyStop, inst, fmt.Sprintf("drawdown %.2f%% breached, stopping portfolio strategies", drawdown*100))

	for _, other := range o.Registry.ByPortfolio(inst.Config.PortfolioID) {
		if _, err := o.stop(other, EmergencyStopReason); err != nil {
			o.logger.Error("emergency stop strategy", "strategy_id", other.StrategyID, "error", err)
		}
	}
}

// recordError counts a failed tick and trips the breaker at the limit.
func (o *Orchestrator) recordError(inst *Instance, err error) {
	inst.mu.Lock()
	inst.errorCount++
	inst.lastError = err.Error()
	count := inst.errorCount
	tripped := false
	if count >= o.opts.MaxConsecutiveErrors && inst.status == domain.InstanceRunning {
		inst.status = domain.InstanceError
		inst.clearTimer()
		tripped = true
	}
	inst.mu.Unlock()

	o.logger.Error("strategy tick failed", "strategy_id", inst.StrategyID, "error_count", count, "error", err)
	if tripped {
		o.logger.Error("strategy circuit breaker tripped", "strategy_id", inst.StrategyID, "errors", count)
		o.notify(domain.EventStrategyError, inst, fmt.Sprintf("%d consecutive errors, last: %v", count, err))
	}
}

func (o *Orchestrator) updatePerformance(ctx context.Context, inst *Instance, portfolio *domain.PortfolioSnapshot) error {
	executed, err := o.Store.ListOrders(ctx, domain.OrderFilter{
		StrategyID: inst.StrategyID,
		Statuses:   []domain.OrderStatus{domain.OrderExecuted},
	})
	if err != nil {
		return fmt.Errorf("load executed orders: %w", err)
	}

	inst.mu.Lock()
	inst.perf = computePerformance(inst.perf, executed, portfolio.TotalValue, o.now())
	inst.mu.Unlock()
	return nil
}

// computePerformance rebuilds trade statistics from executed orders. Every
// executed sell closes a trade. Peak value only grows.
func computePerformance(prev domain.Performance, executed []domain.Order, value float64, now time.Time) domain.Performance {
	p := domain.Performance{
		TotalTrades:  len(executed),
		CurrentValue: value,
		PeakValue:    prev.PeakValue,
		UpdatedAt:    now,
	}
	for _, o := range executed {
		if o.Side != domain.SideSell {
			continue
		}
		p.ClosedTrades++
		p.RealizedPnL += o.RealizedPnL
		if o.RealizedPnL > 0 {
			p.WinningTrades++
			p.GrossWins += o.RealizedPnL
		} else {
			p.GrossLosses -= o.RealizedPnL
		}
	}
	if p.ClosedTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.ClosedTrades)
	}
	if value > p.PeakValue {
		p.PeakValue = value
	}
	if p.PeakValue > 0 {
		p.Drawdown = (p.PeakValue - value) / p.PeakValue
		if p.Drawdown < 0 {
			p.Drawdown = 0
		}
	}
	return p
}

func (o *Orchestrator) saveTickLog(ctx context.Context, inst *Instance, s *tickSummary, tickErr error) {
	entry := &domain.TickLog{
		StrategyID:  inst.StrategyID,
		PortfolioID: inst.Config.PortfolioID,
	}
	if s != nil {
		entry.SymbolsChecked = s.symbols
		entry.RulesTriggered = s.triggered
		entry.OrdersSubmitted = s.submitted
		if data, err := json.Marshal(s.decisions); err == nil {
			entry.DecisionsJSON = string(data)
		}
		if s.emergency {
			entry.Error = EmergencyStopReason
		}
	}
	if tickErr != nil {
		entry.Error = tickErr.Error()
	}
	if err := o.Store.SaveTickLog(ctx, entry); err != nil {
		o.logger.Error("save tick log", "strategy_id", inst.StrategyID, "error", err)
	}
}
