// Package orchestrator runs deployed strategies on their schedules and keeps
// each instance's lifecycle, performance and circuit breaker.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/camuig/autotrader/internal/ai"
	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/executor"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/marketdata"
	"github.com/camuig/autotrader/internal/observability"
	"github.com/camuig/autotrader/internal/risk"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/scheduler"
	"github.com/camuig/autotrader/internal/storage"
)

const (
	DefaultMaxConsecutiveErrors = 5
	EmergencyStopReason         = "Emergency stop triggered"
)

type RiskChecker interface {
	ValidateTrade(ctx context.Context, req risk.TradeRequest, limits domain.RiskLimits) (risk.Decision, error)
	CheckEmergencyStop(ctx context.Context, portfolioID string, threshold float64) (bool, float64, error)
}

type OrderExecutor interface {
	Submit(ctx context.Context, in executor.Intent) (*domain.Order, error)
	SetLimits(portfolioID string, limits domain.RiskLimits)
	ProcessPendingOrders(ctx context.Context) (int, error)
	ExpirePendingOrders(ctx context.Context, ttl time.Duration) (int, error)
	PurgeHistory(ctx context.Context, retention time.Duration) (int64, error)
}

type PortfolioSource interface {
	PortfolioSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error)
}

type Store interface {
	storage.RuleStore
	storage.OrderStore
	storage.TickLogStore
	storage.SnapshotStore
}

type Notifier interface {
	Notify(e domain.Event)
}

type Deps struct {
	Registry    *Registry
	Scheduler   scheduler.Scheduler
	Market      marketdata.Source
	Portfolios  PortfolioSource
	Engine      *rules.Engine
	Risk        RiskChecker
	Adjuster    risk.Adjuster
	Executor    OrderExecutor
	Recommender ai.Recommender
	Store       Store
	Notifier    Notifier
	Metrics     *observability.Metrics
}

type Options struct {
	MaxConsecutiveErrors int
	LookbackDays         int
	TradingHoursOnly     bool
	Location             *time.Location
	Sweeps               config.Sweeps
}

type Orchestrator struct {
	Deps
	opts   Options
	logger *logger.Logger
	now    func() time.Time
	sweeps []scheduler.Handle
}

func New(deps Deps, opts Options, log *logger.Logger) *Orchestrator {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Adjuster == nil {
		deps.Adjuster = risk.PassThrough{}
	}
	if deps.Recommender == nil {
		deps.Recommender = ai.Noop{}
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 120
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Orchestrator{Deps: deps, opts: opts, logger: log, now: time.Now}
}

// Deploy validates the deployment, seeds its rules and starts its timer.
func (o *Orchestrator) Deploy(ctx context.Context, cfg domain.DeploymentConfig) (domain.InstanceSnapshot, error) {
	if err := config.ValidateDeployment(cfg); err != nil {
		return domain.InstanceSnapshot{}, err
	}
	interval, _ := cfg.ExecutionFrequency.Interval()

	inst := &Instance{
		ID:         uuid.NewString(),
		StrategyID: cfg.StrategyID,
		Config:     cfg,
		Interval:   interval,
		status:     domain.InstanceRunning,
		startedAt:  o.now(),
	}
	if err := o.Registry.Add(inst); err != nil {
		return domain.InstanceSnapshot{}, err
	}

	if err := o.seedRules(ctx, cfg); err != nil {
		o.Registry.Remove(cfg.StrategyID)
		return domain.InstanceSnapshot{}, err
	}

	o.Executor.SetLimits(cfg.PortfolioID, cfg.RiskLimits)

	inst.mu.Lock()
	o.startTimer(inst)
	snap := inst.snapshotLocked()
	inst.mu.Unlock()

	o.Metrics.SetActiveInstances(o.Registry.Len())
	o.logger.Info("strategy deployed",
		"strategy_id", cfg.StrategyID,
		"portfolio_id", cfg.PortfolioID,
		"symbols", len(cfg.Symbols),
		"interval", interval.String(),
	)
	o.notify(domain.EventStrategyDeployed, inst, fmt.Sprintf("strategy %s deployed", cfg.StrategyID))
	return snap, nil
}

// seedRules replaces the strategy's stored rule set with cfg.Rules. Rules
// left over from an earlier deployment of the same strategy are deleted.
func (o *Orchestrator) seedRules(ctx context.Context, cfg domain.DeploymentConfig) error {
	keep := make(map[string]struct{}, len(cfg.Rules))
	seeded := make([]domain.TradingRule, 0, len(cfg.Rules))
	for i := range cfg.Rules {
		r := cfg.Rules[i]
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", cfg.StrategyID, i+1)
		}
		r.StrategyID = cfg.StrategyID
		if r.PortfolioID == "" {
			r.PortfolioID = cfg.PortfolioID
		}
		keep[r.ID] = struct{}{}
		seeded = append(seeded, r)
	}

	stored, err := o.Store.ListRules(ctx, storage.RuleFilter{StrategyID: cfg.StrategyID})
	if err != nil {
		return fmt.Errorf("list stored rules: %w", err)
	}
	for _, r := range stored {
		if _, ok := keep[r.ID]; ok {
			continue
		}
		if err := o.Store.DeleteRule(ctx, r.ID); err != nil {
			return fmt.Errorf("delete stale rule %s: %w", r.ID, err)
		}
		o.logger.Debug("stale rule removed", "strategy_id", cfg.StrategyID, "rule_id", r.ID)
	}

	for i := range seeded {
		if err := o.Store.SaveRule(ctx, &seeded[i]); err != nil {
			return fmt.Errorf("seed rule %s: %w", seeded[i].ID, err)
		}
	}
	return nil
}

// startTimer schedules the instance's ticks. The caller holds inst.mu.
func (o *Orchestrator) startTimer(inst *Instance) {
	inst.clearTimer()
	inst.handle = o.Scheduler.Schedule("strategy:"+inst.StrategyID, inst.Interval, func(ctx context.Context) {
		o.Tick(ctx, inst)
	})
}

func (o *Orchestrator) Pause(strategyID string) (domain.InstanceSnapshot, error) {
	inst, err := o.Registry.Get(strategyID)
	if err != nil {
		return domain.InstanceSnapshot{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := inst.transition(domain.InstancePaused); err != nil {
		return domain.InstanceSnapshot{}, err
	}
	inst.clearTimer()
	o.logger.Info("strategy paused", "strategy_id", strategyID)
	return inst.snapshotLocked(), nil
}

func (o *Orchestrator) Resume(strategyID string) (domain.InstanceSnapshot, error) {
	inst, err := o.Registry.Get(strategyID)
	if err != nil {
		return domain.InstanceSnapshot{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := inst.transition(domain.InstanceRunning); err != nil {
		return domain.InstanceSnapshot{}, err
	}
	o.startTimer(inst)
	o.logger.Info("strategy resumed", "strategy_id", strategyID)
	return inst.snapshotLocked(), nil
}

// Stop destroys the instance and returns its final state.
func (o *Orchestrator) Stop(strategyID string) (domain.InstanceSnapshot, error) {
	inst, err := o.Registry.Get(strategyID)
	if err != nil {
		return domain.InstanceSnapshot{}, err
	}
	return o.stop(inst, "stopped by operator")
}

func (o *Orchestrator) stop(inst *Instance, reason string) (domain.InstanceSnapshot, error) {
	inst.mu.Lock()
	// an errored instance is terminal; stopping only unregisters it
	if inst.status != domain.InstanceError {
		if err := inst.transition(domain.InstanceStopped); err != nil {
			inst.mu.Unlock()
			return domain.InstanceSnapshot{}, err
		}
		inst.stopReason = reason
	}
	inst.clearTimer()
	snap := inst.snapshotLocked()
	inst.mu.Unlock()

	o.Registry.Remove(inst.StrategyID)
	o.Metrics.SetActiveInstances(o.Registry.Len())
	o.logger.Info("strategy stopped", "strategy_id", inst.StrategyID, "reason", reason)
	o.notify(domain.EventStrategyStopped, inst, fmt.Sprintf("strategy %s stopped: %s", inst.StrategyID, reason))
	return snap, nil
}

func (o *Orchestrator) Status(strategyID string) (domain.InstanceSnapshot, error) {
	inst, err := o.Registry.Get(strategyID)
	if err != nil {
		return domain.InstanceSnapshot{}, err
	}
	return inst.Snapshot(), nil
}

func (o *Orchestrator) List() []domain.InstanceSnapshot {
	instances := o.Registry.List()
	out := make([]domain.InstanceSnapshot, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Snapshot())
	}
	return out
}

// Start schedules the order and health sweeps.
func (o *Orchestrator) Start(ctx context.Context) {
	sw := o.opts.Sweeps
	o.schedule("sweep:fill", sw.Fill, 30*time.Second, func(ctx context.Context) error {
		n, err := o.Executor.ProcessPendingOrders(ctx)
		if n > 0 {
			o.logger.Info("pending orders filled", "count", n)
		}
		return err
	})
	o.schedule("sweep:expire", sw.Expire, 5*time.Minute, func(ctx context.Context) error {
		ttl := sw.OrderTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		n, err := o.Executor.ExpirePendingOrders(ctx, ttl)
		if n > 0 {
			o.logger.Info("pending orders expired", "count", n)
		}
		return err
	})
	o.schedule("sweep:purge", sw.Purge, 24*time.Hour, func(ctx context.Context) error {
		retention := sw.Retention
		if retention <= 0 {
			retention = 30 * 24 * time.Hour
		}
		_, err := o.Executor.PurgeHistory(ctx, retention)
		return err
	})
	o.schedule("sweep:health", sw.Health, time.Minute, func(ctx context.Context) error {
		o.HealthCheck()
		return nil
	})
	o.logger.Info("orchestrator started", "strategies", o.Registry.Len())
}

func (o *Orchestrator) schedule(name string, every, fallback time.Duration, fn func(ctx context.Context) error) {
	if every <= 0 {
		every = fallback
	}
	h := o.Scheduler.Schedule(name, every, func(ctx context.Context) {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			if err != nil {
				o.logger.Error("sweep failed", "sweep", name, "error", err)
			}
			o.Metrics.RecordSweep(name, err)
		}()
		err = fn(ctx)
	})
	o.sweeps = append(o.sweeps, h)
}

// HealthCheck restarts timers of running instances whose handle went missing.
// It returns how many were restarted.
func (o *Orchestrator) HealthCheck() int {
	restarted := 0
	for _, inst := range o.Registry.List() {
		inst.mu.Lock()
		if inst.status == domain.InstanceRunning && (inst.handle == nil || !inst.handle.Active()) {
			o.logger.Warn("restarting lost strategy timer", "strategy_id", inst.StrategyID)
			o.startTimer(inst)
			restarted++
		}
		inst.mu.Unlock()
	}
	return restarted
}

// Shutdown cancels every timer. Instances stay registered.
func (o *Orchestrator) Shutdown() {
	for _, inst := range o.Registry.List() {
		inst.mu.Lock()
		inst.clearTimer()
		inst.mu.Unlock()
	}
	for _, h := range o.sweeps {
		h.Cancel()
	}
	o.sweeps = nil
	o.Scheduler.Stop()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) notify(kind domain.EventKind, inst *Instance, msg string) {
	if o.Notifier == nil {
		return
	}
	o.Notifier.Notify(domain.Event{
		Kind:        kind,
		StrategyID:  inst.StrategyID,
		PortfolioID: inst.Config.PortfolioID,
		Message:     msg,
		At:          o.now(),
	})
}
