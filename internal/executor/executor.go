package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/observability"
	"github.com/camuig/autotrader/internal/risk"
	"github.com/camuig/autotrader/internal/storage"
)

// Brokerage executes orders and reports portfolio state.
type Brokerage interface {
	Execute(ctx context.Context, portfolioID, symbol string, side domain.Side, qty int64) (*domain.Fill, error)
	PortfolioSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error)
}

type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type RiskValidator interface {
	ValidateTrade(ctx context.Context, req risk.TradeRequest, limits domain.RiskLimits) (risk.Decision, error)
}

type Notifier interface {
	Notify(e domain.Event)
}

// Intent is a request to trade. Automated intents come from strategy rules and
// are subject to the runtime automation gates.
type Intent struct {
	PortfolioID      string
	StrategyID       string
	Symbol           string
	Side             domain.Side
	Quantity         int64
	PriceType        domain.PriceType
	Price            float64 // reference price for market orders, trigger for limit and stop
	Volatility       float64
	RuleID           string
	RecommendationID string
	Confidence       float64
	RiskLevel        string
	Automated        bool
}

type Executor struct {
	broker   Brokerage
	prices   PriceSource
	risk     RiskValidator
	orders   storage.OrderStore
	notifier Notifier
	runtime  *config.Runtime
	metrics  *observability.Metrics
	logger   *logger.Logger
	now      func() time.Time

	limitsMu      sync.RWMutex
	defaultLimits domain.RiskLimits
	limits        map[string]domain.RiskLimits

	locks sync.Map // portfolio id -> *sync.Mutex
}

func NewExecutor(
	broker Brokerage,
	prices PriceSource,
	rv RiskValidator,
	orders storage.OrderStore,
	notifier Notifier,
	runtime *config.Runtime,
	defaults domain.RiskLimits,
	metrics *observability.Metrics,
	log *logger.Logger,
) *Executor {
	return &Executor{
		broker:        broker,
		prices:        prices,
		risk:          rv,
		orders:        orders,
		notifier:      notifier,
		runtime:       runtime,
		metrics:       metrics,
		logger:        log,
		now:           time.Now,
		defaultLimits: defaults,
		limits:        make(map[string]domain.RiskLimits),
	}
}

// SetLimits registers the risk limits used for a portfolio's orders.
func (e *Executor) SetLimits(portfolioID string, limits domain.RiskLimits) {
	e.limitsMu.Lock()
	e.limits[portfolioID] = limits
	e.limitsMu.Unlock()
}

func (e *Executor) limitsFor(portfolioID string) domain.RiskLimits {
	e.limitsMu.RLock()
	defer e.limitsMu.RUnlock()
	if l, ok := e.limits[portfolioID]; ok {
		return l
	}
	return e.defaultLimits
}

func (e *Executor) lock(portfolioID string) func() {
	v, _ := e.locks.LoadOrStore(portfolioID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Submit records the intent as a PENDING order. Market orders are processed
// immediately; limit and stop orders wait for ProcessPendingOrders.
func (e *Executor) Submit(ctx context.Context, in Intent) (*domain.Order, error) {
	rt := e.runtime.Snapshot()
	if !rt.Enabled {
		return nil, fmt.Errorf("submit %s %s: %w", in.Side, in.Symbol, domain.ErrAutomationOff)
	}
	if in.Automated && !rt.AutoExecution {
		return nil, fmt.Errorf("submit %s %s: auto execution off: %w", in.Side, in.Symbol, domain.ErrAutomationOff)
	}
	if err := validateIntent(in); err != nil {
		return nil, err
	}

	priceType := in.PriceType
	if priceType == "" {
		priceType = domain.PriceMarket
	}
	order := &domain.Order{
		ID:               uuid.NewString(),
		PortfolioID:      in.PortfolioID,
		StrategyID:       in.StrategyID,
		Symbol:           in.Symbol,
		Side:             in.Side,
		Quantity:         in.Quantity,
		PriceType:        priceType,
		TriggerPrice:     in.Price,
		Status:           domain.OrderPending,
		RuleID:           in.RuleID,
		RecommendationID: in.RecommendationID,
		Confidence:       in.Confidence,
		RiskLevel:        in.RiskLevel,
		Automated:        in.Automated,
	}
	if err := e.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	e.metrics.RecordOrder(string(domain.OrderPending), string(order.Side))
	e.logger.Info("order created",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"quantity", order.Quantity,
		"price_type", order.PriceType,
	)

	if priceType != domain.PriceMarket {
		return order, nil
	}

	unlock := e.lock(order.PortfolioID)
	defer unlock()
	e.process(ctx, order, rt, in.Volatility)
	return order, nil
}

func validateIntent(in Intent) error {
	var reasons []string
	if in.PortfolioID == "" {
		reasons = append(reasons, "portfolio id is required")
	}
	if in.Symbol == "" {
		reasons = append(reasons, "symbol is required")
	}
	if in.Side != domain.SideBuy && in.Side != domain.SideSell {
		reasons = append(reasons, fmt.Sprintf("unknown side %q", in.Side))
	}
	if in.Quantity <= 0 {
		reasons = append(reasons, "quantity must be positive")
	}
	switch in.PriceType {
	case "", domain.PriceMarket:
	case domain.PriceLimit, domain.PriceStop:
		if in.Price <= 0 {
			reasons = append(reasons, fmt.Sprintf("%s order needs a trigger price", in.PriceType))
		}
	default:
		reasons = append(reasons, fmt.Sprintf("unknown price type %q", in.PriceType))
	}
	if len(reasons) > 0 {
		return &domain.ValidationError{Reasons: reasons}
	}
	return nil
}

// process drives a PENDING order to EXECUTED or FAILED. The caller holds the
// portfolio lock. Failures are recorded on the order and never retried.
func (e *Executor) process(ctx context.Context, o *domain.Order, rt config.RuntimeConfig, volatility float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in order processing", "order_id", o.ID, "panic", fmt.Sprint(r))
			if o.Status == domain.OrderPending {
				_ = o.Transition(domain.OrderExecuting)
			}
			if o.Status == domain.OrderExecuting {
				e.fail(ctx, o, fmt.Sprintf("internal error: %v", r))
			}
		}
	}()

	if err := o.Transition(domain.OrderExecuting); err != nil {
		e.logger.Error("start order", "order_id", o.ID, "error", err)
		return
	}
	if err := e.orders.UpdateOrder(ctx, o); err != nil {
		e.fail(ctx, o, fmt.Sprintf("persist executing state: %v", err))
		return
	}

	portfolio, reason, err := e.validate(ctx, o, rt, volatility)
	if err != nil {
		e.fail(ctx, o, err.Error())
		return
	}
	if reason != "" {
		e.fail(ctx, o, reason)
		return
	}

	fill, err := e.broker.Execute(ctx, o.PortfolioID, o.Symbol, o.Side, o.Quantity)
	if err != nil {
		e.fail(ctx, o, fmt.Sprintf("brokerage: %v", err))
		return
	}

	at := fill.At
	if at.IsZero() {
		at = e.now()
	}
	o.ExecutedPrice = fill.Price
	o.ExecutedQuantity = fill.Quantity
	o.ExecutedAt = &at
	if o.Side == domain.SideSell {
		if pos, ok := portfolio.Position(o.Symbol); ok {
			o.RealizedPnL = (fill.Price - pos.AvgPrice) * float64(fill.Quantity)
		}
	}
	if err := o.Transition(domain.OrderExecuted); err != nil {
		e.logger.Error("complete order", "order_id", o.ID, "error", err)
		return
	}
	if err := e.orders.UpdateOrder(ctx, o); err != nil {
		e.logger.Error("save executed order", "order_id", o.ID, "error", err)
	}

	e.metrics.RecordOrder(string(o.Status), string(o.Side))
	e.logger.Info("order executed",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"price", o.ExecutedPrice,
		"quantity", o.ExecutedQuantity,
		"pnl", o.RealizedPnL,
	)
	e.notify(domain.EventOrderExecuted, o, fmt.Sprintf("%s %d %s @ %.2f", o.Side, o.ExecutedQuantity, o.Symbol, o.ExecutedPrice))
}

// validate returns a non-empty reason when the order must not reach the brokerage.
func (e *Executor) validate(ctx context.Context, o *domain.Order, rt config.RuntimeConfig, volatility float64) (*domain.PortfolioSnapshot, string, error) {
	portfolio, err := e.broker.PortfolioSnapshot(ctx, o.PortfolioID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Sprintf("portfolio %s not found", o.PortfolioID), nil
		}
		return nil, "", fmt.Errorf("get portfolio: %w", err)
	}

	if o.Automated {
		if rt.MinimumConfidence > 0 && o.Confidence < rt.MinimumConfidence {
			return portfolio, fmt.Sprintf("confidence %.0f below minimum %.0f", o.Confidence, rt.MinimumConfidence), nil
		}
		if rt.MaxOrdersPerDay > 0 {
			n, err := e.orders.CountOrders(ctx, domain.OrderFilter{
				PortfolioID: o.PortfolioID,
				Statuses:    []domain.OrderStatus{domain.OrderExecuted},
				From:        startOfDay(e.now()),
				ByExecution: true,
			})
			if err != nil {
				return portfolio, "", fmt.Errorf("count orders: %w", err)
			}
			if n >= rt.MaxOrdersPerDay {
				return portfolio, fmt.Sprintf("daily order limit %d reached", rt.MaxOrdersPerDay), nil
			}
		}
		if rt.CooldownMinutes > 0 {
			if reason, err := e.cooldown(ctx, o, rt.CooldownMinutes); err != nil || reason != "" {
				return portfolio, reason, err
			}
		}
		if o.RiskLevel != "" && config.RiskLevelExceeds(o.RiskLevel, rt.MaximumRiskLevel) {
			return portfolio, fmt.Sprintf("risk level %s above maximum %s", o.RiskLevel, rt.MaximumRiskLevel), nil
		}
	}

	price := o.TriggerPrice
	if o.PriceType == domain.PriceMarket || price <= 0 {
		if p, err := e.prices.CurrentPrice(ctx, o.Symbol); err == nil && p > 0 {
			price = p
		}
	}
	if price <= 0 {
		return portfolio, "no price available", nil
	}

	decision, err := e.risk.ValidateTrade(ctx, risk.TradeRequest{
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Quantity:    o.Quantity,
		Price:       price,
		Volatility:  volatility,
		Portfolio:   portfolio,
	}, e.limitsFor(o.PortfolioID))
	if err != nil {
		return portfolio, "", fmt.Errorf("risk check: %w", err)
	}
	if !decision.IsAllowed {
		return portfolio, "risk: " + decision.Reason, nil
	}
	for _, w := range decision.Warnings {
		e.logger.Warn("risk warning", "order_id", o.ID, "warning", w)
	}

	switch o.Side {
	case domain.SideBuy:
		if cost := float64(o.Quantity) * price; cost > portfolio.Cash {
			return portfolio, fmt.Sprintf("insufficient cash: need %.2f, have %.2f", cost, portfolio.Cash), nil
		}
	case domain.SideSell:
		held, _ := portfolio.Position(o.Symbol)
		if held.Quantity < o.Quantity {
			return portfolio, fmt.Sprintf("insufficient position: need %d, hold %d", o.Quantity, held.Quantity), nil
		}
	}
	return portfolio, "", nil
}

func (e *Executor) cooldown(ctx context.Context, o *domain.Order, minutes int) (string, error) {
	recent, err := e.orders.ListOrders(ctx, domain.OrderFilter{
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Statuses:    []domain.OrderStatus{domain.OrderExecuted},
		Limit:       1,
		ByExecution: true,
	})
	if err != nil {
		return "", fmt.Errorf("list recent orders: %w", err)
	}
	if len(recent) == 0 || recent[0].ExecutedAt == nil {
		return "", nil
	}
	window := time.Duration(minutes) * time.Minute
	if since := e.now().Sub(*recent[0].ExecutedAt); since < window {
		return fmt.Sprintf("cooldown: last %s trade %s ago", o.Symbol, since.Round(time.Second)), nil
	}
	return "", nil
}

func (e *Executor) fail(ctx context.Context, o *domain.Order, reason string) {
	if err := o.Fail(reason); err != nil {
		e.logger.Error("fail order", "order_id", o.ID, "error", err)
		return
	}
	if err := e.orders.UpdateOrder(ctx, o); err != nil {
		e.logger.Error("save failed order", "order_id", o.ID, "error", err)
	}
	e.metrics.RecordOrder(string(o.Status), string(o.Side))
	e.logger.Warn("order failed", "order_id", o.ID, "symbol", o.Symbol, "reason", reason)
	e.notify(domain.EventOrderFailed, o, fmt.Sprintf("%s %d %s failed: %s", o.Side, o.Quantity, o.Symbol, reason))
}

func (e *Executor) notify(kind domain.EventKind, o *domain.Order, msg string) {
	if e.notifier == nil {
		return
	}
	copied := *o
	e.notifier.Notify(domain.Event{
		Kind:        kind,
		StrategyID:  o.StrategyID,
		PortfolioID: o.PortfolioID,
		Message:     msg,
		Order:       &copied,
		At:          e.now(),
	})
}

// Cancel moves a PENDING order to CANCELLED.
func (e *Executor) Cancel(ctx context.Context, id string) (*domain.Order, error) {
	o, err := e.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := e.lock(o.PortfolioID)
	defer unlock()

	// re-read under the lock, the fill sweep may have moved it
	if o, err = e.orders.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	if err := e.cancel(ctx, o, "cancelled by user"); err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Executor) cancel(ctx context.Context, o *domain.Order, reason string) error {
	if err := o.Transition(domain.OrderCancelled); err != nil {
		return err
	}
	o.FailureReason = reason
	if err := e.orders.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("save cancelled order: %w", err)
	}
	e.metrics.RecordOrder(string(o.Status), string(o.Side))
	e.logger.Info("order cancelled", "order_id", o.ID, "reason", reason)
	e.notify(domain.EventOrderCancelled, o, fmt.Sprintf("%s %d %s cancelled: %s", o.Side, o.Quantity, o.Symbol, reason))
	return nil
}

// ProcessPendingOrders fills PENDING orders whose trigger the market has
// crossed. It returns how many orders were processed.
func (e *Executor) ProcessPendingOrders(ctx context.Context) (int, error) {
	pending, err := e.orders.ListOrders(ctx, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderPending}})
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	rt := e.runtime.Snapshot()
	processed := 0
	for i := len(pending) - 1; i >= 0; i-- { // oldest first
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		o := pending[i]
		if !rt.Enabled || (o.Automated && !rt.AutoExecution) {
			continue
		}
		price, err := e.prices.CurrentPrice(ctx, o.Symbol)
		if err != nil || price <= 0 {
			e.logger.Debug("no price for pending order", "order_id", o.ID, "symbol", o.Symbol, "error", err)
			continue
		}
		if !Triggered(o.PriceType, o.Side, o.TriggerPrice, price) {
			continue
		}
		if e.processPending(ctx, o.ID, rt) {
			processed++
		}
	}
	return processed, nil
}

func (e *Executor) processPending(ctx context.Context, id string, rt config.RuntimeConfig) bool {
	o, err := e.orders.GetOrder(ctx, id)
	if err != nil {
		return false
	}
	unlock := e.lock(o.PortfolioID)
	defer unlock()

	if o, err = e.orders.GetOrder(ctx, id); err != nil || o.Status != domain.OrderPending {
		return false
	}
	e.process(ctx, o, rt, 0)
	return true
}

// Triggered reports whether the market price crossed an order's trigger.
func Triggered(pt domain.PriceType, side domain.Side, trigger, price float64) bool {
	switch pt {
	case domain.PriceLimit:
		if side == domain.SideBuy {
			return price <= trigger
		}
		return price >= trigger
	case domain.PriceStop:
		if side == domain.SideBuy {
			return price >= trigger
		}
		return price <= trigger
	}
	return true
}

// ExpirePendingOrders cancels PENDING orders older than ttl.
func (e *Executor) ExpirePendingOrders(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := e.orders.ListOrders(ctx, domain.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderPending},
		To:       e.now().Add(-ttl),
	})
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	expired := 0
	var errs []string
	for _, o := range stale {
		if err := e.expire(ctx, o.ID); err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				errs = append(errs, err.Error())
			}
			continue
		}
		expired++
	}
	if len(errs) > 0 {
		return expired, fmt.Errorf("expire orders: %s", strings.Join(errs, "; "))
	}
	return expired, nil
}

func (e *Executor) expire(ctx context.Context, id string) error {
	o, err := e.orders.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	unlock := e.lock(o.PortfolioID)
	defer unlock()

	if o, err = e.orders.GetOrder(ctx, id); err != nil {
		return err
	}
	return e.cancel(ctx, o, "expired")
}

// PurgeHistory deletes terminal orders created before the retention window.
func (e *Executor) PurgeHistory(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.orders.DeleteOrders(ctx,
		[]domain.OrderStatus{domain.OrderExecuted, domain.OrderFailed, domain.OrderCancelled},
		e.now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("purge orders: %w", err)
	}
	if n > 0 {
		e.logger.Info("order history purged", "deleted", n, "retention", retention.String())
	}
	return n, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
