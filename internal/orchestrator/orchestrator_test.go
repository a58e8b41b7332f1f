package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/broker"
	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/executor"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/marketdata"
	"github.com/camuig/autotrader/internal/risk"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/scheduler"
	"github.com/camuig/autotrader/internal/sizing"
	"github.com/camuig/autotrader/internal/storage"
	"github.com/camuig/autotrader/internal/storage/memory"
)

// valuations lets a test move a portfolio's value or make it unavailable.
type valuations struct {
	mu    sync.Mutex
	value map[string]float64
	err   error
}

func (v *valuations) set(pid string, value float64) {
	v.mu.Lock()
	v.value[pid] = value
	v.mu.Unlock()
}

func (v *valuations) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
}

func (v *valuations) PortfolioSnapshot(_ context.Context, pid string) (*domain.PortfolioSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	value, ok := v.value[pid]
	if !ok {
		value = 100000
	}
	return &domain.PortfolioSnapshot{PortfolioID: pid, Cash: value, TotalValue: value}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Notify(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) of(kind domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	orch    *Orchestrator
	sched   *scheduler.Manual
	store   *memory.Store
	values  *valuations
	market  *marketdata.Static
	events  *recorder
	runtime *config.Runtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	store := memory.NewStore()
	market := marketdata.NewStatic(map[string]float64{"SBER": 100, "GAZP": 50}, nil)
	paper := broker.NewPaper(market, 100000, 0, log)
	values := &valuations{value: map[string]float64{}}
	gk := risk.NewGatekeeper(store, values, log)
	rt := config.NewRuntime(config.RuntimeConfig{Enabled: true, AutoExecution: true})
	events := &recorder{}
	exec := executor.NewExecutor(paper, market, gk, store, events, rt, domain.RiskLimits{}, nil, log)
	sched := scheduler.NewManual()

	orch := New(Deps{
		Scheduler:  sched,
		Market:     market,
		Portfolios: values,
		Engine:     rules.NewEngine(sizing.New(sizing.DefaultConfig()), log),
		Risk:       gk,
		Executor:   exec,
		Store:      store,
		Notifier:   events,
	}, Options{}, log)

	return &fixture{
		orch:    orch,
		sched:   sched,
		store:   store,
		values:  values,
		market:  market,
		events:  events,
		runtime: rt,
	}
}

func buyRule(threshold string) domain.TradingRule {
	return domain.TradingRule{
		Name:     "buy on price",
		IsActive: true,
		Priority: 10,
		RuleType: domain.RuleTypeEntry,
		Conditions: []domain.Condition{
			{Field: domain.FieldCurrentPrice, Operator: domain.OpGreaterThan, Value: threshold},
		},
		Actions: []domain.Action{
			{Type: domain.ActionBuy, SizingMethod: domain.SizingFixed, SizeValue: 1000, PriceType: domain.PriceMarket},
		},
	}
}

func deployment(id, portfolio string, rs ...domain.TradingRule) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		StrategyID:         id,
		PortfolioID:        portfolio,
		Symbols:            []string{"SBER"},
		ExecutionFrequency: domain.FrequencyMinute,
		Rules:              rs,
	}
}

func TestDeploy_RegistersAndSeedsRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.orch.Deploy(ctx, deployment("s1", "p1", buyRule("0")))
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceRunning, snap.Status)
	assert.NotEmpty(t, snap.ID)

	seeded, err := f.store.GetRule(ctx, "s1-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", seeded.StrategyID)
	assert.Equal(t, "p1", seeded.PortfolioID)

	jobs := f.sched.Jobs("strategy:s1")
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Minute, jobs[0].Interval)
	assert.Len(t, f.events.of(domain.EventStrategyDeployed), 1)
}

func TestDeploy_RedeployReplacesRuleSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Deploy(ctx, deployment("s1", "p1", buyRule("0"), buyRule("10")))
	require.NoError(t, err)
	list, err := f.store.ListRules(ctx, storage.RuleFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = f.orch.Stop("s1")
	require.NoError(t, err)

	_, err = f.orch.Deploy(ctx, deployment("s1", "p1", buyRule("20")))
	require.NoError(t, err)
	list, err = f.store.ListRules(ctx, storage.RuleFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1-1", list[0].ID)
	assert.Equal(t, "20", list[0].Conditions[0].Value)

	_, err = f.store.GetRule(ctx, "s1-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeploy_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Deploy(ctx, deployment("s1", "p1"))
	require.NoError(t, err)

	_, err = f.orch.Deploy(ctx, deployment("s1", "p2"))
	assert.ErrorIs(t, err, domain.ErrAlreadyDeployed)

	bad := deployment("s2", "p1")
	bad.ExecutionFrequency = "weekly"
	bad.Symbols = nil
	_, err = f.orch.Deploy(ctx, bad)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Reasons, 2)
	assert.Equal(t, 1, f.orch.Registry.Len())
}

func TestLifecycle_PauseResumeStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1"))
	require.NoError(t, err)

	snap, err := f.orch.Pause("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstancePaused, snap.Status)
	assert.Equal(t, 0, f.sched.Fire(ctx, "strategy:s1"), "paused instance has no timer")

	_, err = f.orch.Pause("s1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	snap, err = f.orch.Resume("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceRunning, snap.Status)
	assert.Equal(t, 1, f.sched.Fire(ctx, "strategy:s1"))

	snap, err = f.orch.Stop("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStopped, snap.Status)
	assert.Equal(t, "stopped by operator", snap.StopReason)
	assert.Equal(t, 0, f.sched.ActiveJobs())

	_, err = f.orch.Status("s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.orch.Resume("s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.orch.List())
}

func TestTick_SubmitsOrderAndRecordsPerformance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1", buyRule("0")))
	require.NoError(t, err)

	require.Equal(t, 1, f.sched.Fire(ctx, "strategy:s1"))

	orders, err := f.store.ListOrders(ctx, domain.OrderFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, domain.OrderExecuted, o.Status)
	assert.Equal(t, int64(10), o.Quantity)
	assert.True(t, o.Automated)
	assert.Equal(t, "s1-1", o.RuleID)
	assert.Equal(t, config.RiskLow, o.RiskLevel)

	snap, err := f.orch.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Performance.TotalTrades)
	assert.Equal(t, 0, snap.ErrorCount)
	assert.False(t, snap.LastTickAt.IsZero())

	logs, err := f.store.RecentTickLogs(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].SymbolsChecked)
	assert.Equal(t, 1, logs[0].RulesTriggered)
	assert.Equal(t, 1, logs[0].OrdersSubmitted)
	assert.Contains(t, logs[0].DecisionsJSON, `"rule_id":"s1-1"`)

	latest, err := f.store.LatestSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 100000, latest.TotalValue, 1e-9)
}

func TestTick_AutomationOffIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runtime.Update(func(c *config.RuntimeConfig) { c.AutoExecution = false })
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1", buyRule("0")))
	require.NoError(t, err)

	f.sched.Fire(ctx, "strategy:s1")

	n, err := f.store.CountOrders(ctx, domain.OrderFilter{StrategyID: "s1"})
	require.NoError(t, err)
	assert.Zero(t, n)
	snap, _ := f.orch.Status("s1")
	assert.Zero(t, snap.ErrorCount)
}

func TestTick_MissingPriceSkipsSymbol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := deployment("s1", "p1", buyRule("0"))
	cfg.Symbols = []string{"UNKNOWN"}
	_, err := f.orch.Deploy(ctx, cfg)
	require.NoError(t, err)

	f.sched.Fire(ctx, "strategy:s1")

	snap, _ := f.orch.Status("s1")
	assert.Equal(t, domain.InstanceRunning, snap.Status)
	assert.Zero(t, snap.ErrorCount)
	logs, _ := f.store.RecentTickLogs(ctx, "s1", 1)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].DecisionsJSON, "no price")
}

func TestTick_CircuitBreakerAfterConsecutiveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1"))
	require.NoError(t, err)

	f.values.fail(errors.New("broker down"))
	for i := 0; i < 3; i++ {
		f.sched.Fire(ctx, "strategy:s1")
	}
	snap, _ := f.orch.Status("s1")
	assert.Equal(t, 3, snap.ErrorCount)
	assert.Contains(t, snap.LastError, "broker down")

	f.values.fail(nil)
	f.sched.Fire(ctx, "strategy:s1")
	snap, _ = f.orch.Status("s1")
	assert.Zero(t, snap.ErrorCount, "a clean tick resets the streak")

	f.values.fail(errors.New("broker down"))
	for i := 0; i < DefaultMaxConsecutiveErrors; i++ {
		assert.Equal(t, 1, f.sched.Fire(ctx, "strategy:s1"))
	}
	snap, _ = f.orch.Status("s1")
	assert.Equal(t, domain.InstanceError, snap.Status)
	assert.Equal(t, DefaultMaxConsecutiveErrors, snap.ErrorCount)
	assert.Equal(t, 0, f.sched.Fire(ctx, "strategy:s1"), "no tick after the breaker trips")
	assert.Len(t, f.events.of(domain.EventStrategyError), 1)

	_, err = f.orch.Resume("s1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	snap, err = f.orch.Stop("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceError, snap.Status)
	assert.Zero(t, f.orch.Registry.Len())
}

func TestTick_EmergencyStopHaltsPortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"s1", "s2"} {
		_, err := f.orch.Deploy(ctx, deployment(id, "p1", buyRule("1000000")))
		require.NoError(t, err)
	}
	_, err := f.orch.Deploy(ctx, deployment("other", "p2", buyRule("1000000")))
	require.NoError(t, err)

	f.values.set("p1", 100000)
	f.sched.Fire(ctx, "strategy:s1")

	f.values.set("p1", 90000)
	f.sched.Fire(ctx, "strategy:s1")

	_, err = f.orch.Status("s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.orch.Status("s2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap, err := f.orch.Status("other")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceRunning, snap.Status)

	assert.Len(t, f.events.of(domain.EventEmergencyStop), 1)
	stopped := f.events.of(domain.EventStrategyStopped)
	require.Len(t, stopped, 2)
	for _, e := range stopped {
		assert.True(t, strings.HasSuffix(e.Message, EmergencyStopReason), e.Message)
	}

	logs, _ := f.store.RecentTickLogs(ctx, "s1", 1)
	require.Len(t, logs, 1)
	assert.Equal(t, EmergencyStopReason, logs[0].Error)
}

func TestTick_TradingHoursGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.opts.TradingHoursOnly = true
	f.orch.now = func() time.Time { return time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC) } // Sunday
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1", buyRule("0")))
	require.NoError(t, err)

	f.sched.Fire(ctx, "strategy:s1")

	logs, _ := f.store.RecentTickLogs(ctx, "s1", 0)
	assert.Empty(t, logs)
}

func TestHealthCheck_RestartsLostTimers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1"))
	require.NoError(t, err)
	_, err = f.orch.Deploy(ctx, deployment("s2", "p1"))
	require.NoError(t, err)
	_, err = f.orch.Pause("s2")
	require.NoError(t, err)

	f.sched.Jobs("strategy:s1")[0].Cancel()
	assert.Equal(t, 1, f.orch.HealthCheck())
	assert.Equal(t, 0, f.orch.HealthCheck())
	assert.Equal(t, 1, f.sched.Fire(ctx, "strategy:s1"))
}

func TestStart_SchedulesSweepsAndShutdownCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.Start(ctx)
	_, err := f.orch.Deploy(ctx, deployment("s1", "p1"))
	require.NoError(t, err)

	for _, name := range []string{"sweep:fill", "sweep:expire", "sweep:purge", "sweep:health"} {
		assert.Equal(t, 1, f.sched.Fire(ctx, name), name)
	}
	assert.Equal(t, 30*time.Second, f.sched.Jobs("sweep:fill")[0].Interval)

	f.orch.Shutdown()
	assert.Zero(t, f.sched.ActiveJobs())
	assert.Equal(t, 1, f.orch.Registry.Len(), "instances survive shutdown")
}

func TestComputePerformance(t *testing.T) {
	now := time.Now()
	executed := []domain.Order{
		{Side: domain.SideBuy},
		{Side: domain.SideSell, RealizedPnL: 300},
		{Side: domain.SideSell, RealizedPnL: -100},
		{Side: domain.SideSell, RealizedPnL: 0},
	}

	p := computePerformance(domain.Performance{PeakValue: 120000}, executed, 108000, now)
	assert.Equal(t, 4, p.TotalTrades)
	assert.Equal(t, 3, p.ClosedTrades)
	assert.Equal(t, 1, p.WinningTrades)
	assert.InDelta(t, 1.0/3, p.WinRate, 1e-9)
	assert.InDelta(t, 300, p.GrossWins, 1e-9)
	assert.InDelta(t, 100, p.GrossLosses, 1e-9)
	assert.InDelta(t, 200, p.RealizedPnL, 1e-9)
	assert.InDelta(t, 120000, p.PeakValue, 1e-9)
	assert.InDelta(t, 0.1, p.Drawdown, 1e-9)

	p = computePerformance(p, nil, 130000, now)
	assert.InDelta(t, 130000, p.PeakValue, 1e-9)
	assert.Zero(t, p.Drawdown)
}

func TestPreviousClose(t *testing.T) {
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Timestamp: now.AddDate(0, 0, -2), Close: 98},
		{Timestamp: now.AddDate(0, 0, -1), Close: 99},
		{Timestamp: now.Add(-time.Hour), Close: 101},
	}
	assert.InDelta(t, 99, previousClose(bars, now), 1e-9)
	assert.Zero(t, previousClose(nil, now))
}
