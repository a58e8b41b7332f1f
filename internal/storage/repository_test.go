package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepository(db)
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	_, err := NewDatabase("oracle", "")
	assert.Error(t, err)
}

func TestRepository_RuleConditionsPersistAsJSON(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	rule := &domain.TradingRule{
		ID: "r1", PortfolioID: "p1", StrategyID: "s1", Name: "oversold",
		IsActive: true, Priority: 10, RuleType: domain.RuleTypeEntry,
		Conditions: []domain.Condition{{Field: domain.FieldRSI, Operator: domain.OpLessThan, Value: "30"}},
		Actions:    []domain.Action{{Type: domain.ActionBuy, SizingMethod: domain.SizingPercentage, SizeValue: 5}},
	}
	require.NoError(t, repo.SaveRule(ctx, rule))

	got, err := repo.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rule.Conditions, got.Conditions)
	assert.Equal(t, rule.Actions, got.Actions)

	rule.Priority = 20
	require.NoError(t, repo.SaveRule(ctx, rule))
	list, err := repo.ListRules(ctx, RuleFilter{StrategyID: "s1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 20, list[0].Priority)

	require.NoError(t, repo.DeleteRule(ctx, "r1"))
	_, err = repo.GetRule(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	o := &domain.Order{
		ID: "o1", PortfolioID: "p1", Symbol: "SBER", Side: domain.SideSell,
		Quantity: 10, PriceType: domain.PriceMarket, Status: domain.OrderPending,
	}
	require.NoError(t, repo.CreateOrder(ctx, o))
	assert.ErrorIs(t, repo.CreateOrder(ctx, o), ErrDuplicateKey)

	require.NoError(t, o.Transition(domain.OrderExecuting))
	require.NoError(t, o.Transition(domain.OrderExecuted))
	now := time.Now()
	o.ExecutedAt = &now
	o.ExecutedPrice = 250
	o.ExecutedQuantity = 10
	o.RealizedPnL = -40
	require.NoError(t, repo.UpdateOrder(ctx, o))

	got, err := repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExecuted, got.Status)
	assert.InDelta(t, 250, got.ExecutedPrice, 1e-9)

	pnl, err := repo.RealizedPnL(ctx, "p1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, -40, pnl, 1e-9)

	n, err := repo.CountOrders(ctx, domain.OrderFilter{PortfolioID: "p1", Statuses: []domain.OrderStatus{domain.OrderExecuted}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deleted, err := repo.DeleteOrders(ctx, []domain.OrderStatus{domain.OrderExecuted}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_Backtests(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveBacktest(ctx, &domain.BacktestResult{ID: "b1", StrategyID: "s1", TradeCount: 4}))
	require.NoError(t, repo.SaveBacktest(ctx, &domain.BacktestResult{ID: "b2", StrategyID: "s2"}))

	list, err := repo.ListBacktests(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].TradeCount)

	_, err = repo.GetBacktest(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_OrdersByExecution(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	early, late := day.Add(time.Hour), day.Add(5*time.Hour)

	require.NoError(t, repo.CreateOrder(ctx, &domain.Order{ID: "carried", PortfolioID: "p1", Symbol: "SBER", Status: domain.OrderExecuted, CreatedAt: day.Add(-time.Hour), ExecutedAt: &late}))
	require.NoError(t, repo.CreateOrder(ctx, &domain.Order{ID: "same-day", PortfolioID: "p1", Symbol: "SBER", Status: domain.OrderExecuted, CreatedAt: day.Add(30 * time.Minute), ExecutedAt: &early}))

	n, err := repo.CountOrders(ctx, domain.OrderFilter{PortfolioID: "p1", From: day, ByExecution: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := repo.ListOrders(ctx, domain.OrderFilter{PortfolioID: "p1", ByExecution: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "carried", list[0].ID)
}
