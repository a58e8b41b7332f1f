package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/storage"
)

func TestStore_RulesRoundTripAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.SaveRule(ctx, &domain.TradingRule{ID: "a", PortfolioID: "p1", IsActive: true, Priority: 1}))
	require.NoError(t, s.SaveRule(ctx, &domain.TradingRule{ID: "b", PortfolioID: "p1", IsActive: false, Priority: 5}))
	require.NoError(t, s.SaveRule(ctx, &domain.TradingRule{ID: "c", PortfolioID: "p2", IsActive: true, Priority: 9}))

	all, err := s.ListRules(ctx, storage.RuleFilter{PortfolioID: "p1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)

	active, err := s.ListRules(ctx, storage.RuleFilter{PortfolioID: "p1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	require.NoError(t, s.DeleteRule(ctx, "a"))
	_, err = s.GetRule(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteRule(ctx, "a"), storage.ErrNotFound)
}

func TestStore_OrdersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	o := &domain.Order{ID: "o1", PortfolioID: "p1", Symbol: "SBER", Status: domain.OrderPending}
	require.NoError(t, s.CreateOrder(ctx, o))
	assert.ErrorIs(t, s.CreateOrder(ctx, o), storage.ErrDuplicateKey)

	o.Status = domain.OrderExecuting
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, got.Status, "stored order is not aliased")

	require.NoError(t, s.UpdateOrder(ctx, o))
	got, err = s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExecuting, got.Status)

	assert.ErrorIs(t, s.UpdateOrder(ctx, &domain.Order{ID: "missing"}), domain.ErrNotFound)
}

func TestStore_OrderQueries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	executed := base.Add(time.Hour)

	orders := []domain.Order{
		{ID: "1", PortfolioID: "p1", Symbol: "SBER", Status: domain.OrderExecuted, CreatedAt: base, ExecutedAt: &executed, RealizedPnL: -120},
		{ID: "2", PortfolioID: "p1", Symbol: "SBER", Status: domain.OrderExecuted, CreatedAt: base.Add(time.Minute), ExecutedAt: &executed, RealizedPnL: 20},
		{ID: "3", PortfolioID: "p1", Symbol: "GAZP", Status: domain.OrderFailed, CreatedAt: base.Add(2 * time.Minute), RealizedPnL: 999},
		{ID: "4", PortfolioID: "p2", Symbol: "SBER", Status: domain.OrderPending, CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range orders {
		require.NoError(t, s.CreateOrder(ctx, &orders[i]))
	}

	list, err := s.ListOrders(ctx, domain.OrderFilter{PortfolioID: "p1", Symbol: "SBER"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID, "newest first")

	n, err := s.CountOrders(ctx, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderExecuted, domain.OrderFailed}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountOrders(ctx, domain.OrderFilter{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pnl, err := s.RealizedPnL(ctx, "p1", base)
	require.NoError(t, err)
	assert.InDelta(t, -100, pnl, 1e-9)

	deleted, err := s.DeleteOrders(ctx, []domain.OrderStatus{domain.OrderFailed, domain.OrderPending}, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestStore_OrdersByExecution(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	early, late := day.Add(time.Hour), day.Add(5*time.Hour)

	require.NoError(t, s.CreateOrder(ctx, &domain.Order{ID: "carried", Status: domain.OrderExecuted, CreatedAt: day.Add(-time.Hour), ExecutedAt: &late}))
	require.NoError(t, s.CreateOrder(ctx, &domain.Order{ID: "same-day", Status: domain.OrderExecuted, CreatedAt: day.Add(30 * time.Minute), ExecutedAt: &early}))
	require.NoError(t, s.CreateOrder(ctx, &domain.Order{ID: "pending", Status: domain.OrderPending, CreatedAt: day.Add(2 * time.Hour)}))

	n, err := s.CountOrders(ctx, domain.OrderFilter{From: day, ByExecution: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountOrders(ctx, domain.OrderFilter{From: day})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "created_at window drops the carried order and keeps the pending one")

	list, err := s.ListOrders(ctx, domain.OrderFilter{ByExecution: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "carried", list[0].ID)
}

func TestStore_TickLogsAndSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.SaveTickLog(ctx, &domain.TickLog{StrategyID: "s1", SymbolsChecked: 1}))
	require.NoError(t, s.SaveTickLog(ctx, &domain.TickLog{StrategyID: "s2"}))
	require.NoError(t, s.SaveTickLog(ctx, &domain.TickLog{StrategyID: "s1", SymbolsChecked: 3}))

	logs, err := s.RecentTickLogs(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].SymbolsChecked)

	_, err = s.LatestSnapshot(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap := storage.NewPortfolioSnapshot(&domain.PortfolioSnapshot{
		PortfolioID: "p1", Cash: 10, TotalValue: 110,
		Positions: []domain.PositionSnapshot{{Symbol: "SBER", Quantity: 1, CurrentPrice: 100}},
	})
	require.NoError(t, s.SavePortfolioSnapshot(ctx, snap))

	latest, err := s.LatestSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.PositionsCount)
	assert.Contains(t, latest.PositionsJSON, "SBER")
}
