package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/marketdata"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/sizing"
	"github.com/camuig/autotrader/internal/storage/memory"
)

var day0 = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

func TestPortfolio_EntryWithCommission(t *testing.T) {
	pf := NewPortfolio(10000, 0.001, 0)

	trade, ok := pf.Enter(day0, "SBER", 100, 50, "r1")
	require.True(t, ok)
	assert.InDelta(t, 4995.0, pf.Cash, 1e-9)
	assert.InDelta(t, -5.0, trade.PnL, 1e-9)
	assert.Equal(t, int64(100), pf.Positions["SBER"].Quantity)
}

func TestPortfolio_EntryShrinksToAffordable(t *testing.T) {
	pf := NewPortfolio(1000, 0, 0.01)

	trade, ok := pf.Enter(day0, "SBER", 100, 50, "")
	require.True(t, ok)
	assert.InDelta(t, 50.5, trade.Price, 1e-9, "buy slippage raises the fill")
	assert.Equal(t, int64(19), trade.Quantity)
	assert.GreaterOrEqual(t, pf.Cash, 0.0)

	_, ok = pf.Enter(day0, "GAZP", 1, 10000, "")
	assert.False(t, ok)
	assert.NotContains(t, pf.Positions, "GAZP")
}

func TestPortfolio_EntryAtExactMultipleKeepsCashNonNegative(t *testing.T) {
	cases := []struct {
		cash, price float64
		want        int64
	}{
		{0.3, 0.1, 3},
		{0.7, 0.1, 7},
		{3 * 0.1, 0.1, 3},
	}
	for _, tc := range cases {
		pf := NewPortfolio(tc.cash, 0, 0)
		trade, ok := pf.Enter(day0, "X", 10, tc.price, "")
		require.True(t, ok)
		assert.Equal(t, tc.want, trade.Quantity)
		assert.GreaterOrEqual(t, pf.Cash, 0.0, "cash %v price %v", tc.cash, tc.price)
	}

	for units := 1; units <= 200; units++ {
		for _, price := range []float64{0.1, 0.3, 0.7, 1.1, 33.33, 101.7} {
			pf := NewPortfolio(float64(units)*price, 0.0005, 0.001)
			_, _ = pf.Enter(day0, "X", int64(units)*2, price, "")
			require.GreaterOrEqual(t, pf.Cash, 0.0, "units %d price %v", units, price)
		}
	}
}

func TestPortfolio_AveragesIntoPosition(t *testing.T) {
	pf := NewPortfolio(100000, 0, 0)
	pf.Enter(day0, "SBER", 10, 100, "")
	pf.Enter(day0.AddDate(0, 0, 1), "SBER", 10, 110, "")

	pos := pf.Positions["SBER"]
	assert.Equal(t, int64(20), pos.Quantity)
	assert.InDelta(t, 105, pos.EntryPrice, 1e-9)
	assert.Equal(t, day0, pos.OpenedAt)
}

func TestPortfolio_ExitClipsToHeld(t *testing.T) {
	pf := NewPortfolio(100000, 0.001, 0)
	pf.Enter(day0, "SBER", 100, 50, "")

	trade, ok := pf.Exit(day0.AddDate(0, 0, 1), "SBER", 150, 60, "")
	require.True(t, ok)
	assert.Equal(t, int64(100), trade.Quantity)
	assert.InDelta(t, 1000-6, trade.PnL, 1e-9)
	assert.NotContains(t, pf.Positions, "SBER")

	_, ok = pf.Exit(day0, "SBER", 1, 60, "")
	assert.False(t, ok)

	stats := pf.Stats()
	require.NotNil(t, stats)
	assert.InDelta(t, 1, stats.WinRate, 1e-9)
}

func TestPortfolio_UpdateKeepsEquityIdentity(t *testing.T) {
	pf := NewPortfolio(10000, 0.001, 0.001)
	closes := []float64{100, 110, 90, 95, 120, 80}
	for i, px := range closes {
		ts := day0.AddDate(0, 0, i)
		if i%2 == 0 {
			pf.Enter(ts, "SBER", 10, px, "")
		} else {
			pf.Exit(ts, "SBER", 5, px, "")
		}
		equity := pf.Update(ts, map[string]float64{"SBER": px})

		held := 0.0
		for _, pos := range pf.Positions {
			held += float64(pos.Quantity) * pos.CurrentPrice
		}
		assert.InDelta(t, pf.Cash+held, equity, 1e-6)
		assert.GreaterOrEqual(t, pf.Cash, 0.0)
	}

	for _, p := range pf.DrawdownCurve {
		assert.GreaterOrEqual(t, p.Value, 0.0)
	}
	assert.GreaterOrEqual(t, pf.HighWaterMark, 10000.0)
	peak := 0.0
	for i, p := range pf.EquityCurve {
		peak = math.Max(peak, p.Value)
		expected := math.Max(0, (math.Max(peak, 10000)-p.Value)/math.Max(peak, 10000))
		assert.InDelta(t, expected, pf.DrawdownCurve[i].Value, 1e-9)
	}
}

func TestProfitFactor(t *testing.T) {
	assert.True(t, math.IsInf(ProfitFactor(100, 0), 1))
	assert.Zero(t, ProfitFactor(0, 0))
	assert.Zero(t, ProfitFactor(0, -50))
	assert.InDelta(t, 2, ProfitFactor(100, -50), 1e-9)
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, Sharpe([]float64{0.01, 0.01, 0.01}), "zero variance")
	assert.Zero(t, Sharpe([]float64{0.01}))

	returns := []float64{0.01, -0.01, 0.02, 0}
	mean, sd := meanStdev(returns)
	assert.InDelta(t, mean*252/(sd*math.Sqrt(252)), Sharpe(returns), 1e-12)
}

func TestTailRisk(t *testing.T) {
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = float64(i-5) / 100 // -0.05 .. 0.34
	}
	v, es := TailRisk(returns, 0.95)
	assert.InDelta(t, -0.03, v, 1e-12, "index floor(0.05*40)=2")
	assert.InDelta(t, -0.045, es, 1e-12)

	v, es = TailRisk([]float64{0.02, -0.01}, 0.95)
	assert.InDelta(t, -0.01, v, 1e-12)
	assert.Equal(t, v, es)

	v, es = TailRisk(nil, 0.95)
	assert.Zero(t, v)
	assert.Zero(t, es)
}

func TestComputeMetrics_TradeStats(t *testing.T) {
	sell := func(pnl float64) TradeDetail { return TradeDetail{Side: domain.SideSell, PnL: pnl} }
	trades := []TradeDetail{
		{Side: domain.SideBuy, PnL: -1},
		sell(50), sell(30), sell(-20), sell(-10), sell(-40), sell(100),
	}
	equity := []Point{
		{Timestamp: day0, Value: 10000},
		{Timestamp: day0.AddDate(0, 0, 1), Value: 10100},
		{Timestamp: day0.AddDate(0, 0, 2), Value: 10110},
	}
	drawdown := []Point{{Value: 0}, {Value: 0.03}, {Value: 0.01}}

	m := ComputeMetrics(10000, equity, drawdown, trades)
	assert.Equal(t, 7, m.TradeCount)
	assert.Equal(t, 6, m.ClosedTrades)
	assert.Equal(t, 3, m.WinningTrades)
	assert.Equal(t, 3, m.LosingTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 180.0/70, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 60, m.AvgWin, 1e-9)
	assert.InDelta(t, -70.0/3, m.AvgLoss, 1e-9)
	assert.InDelta(t, 100, m.LargestWin, 1e-9)
	assert.InDelta(t, -40, m.LargestLoss, 1e-9)
	assert.Equal(t, 2, m.MaxWinStreak)
	assert.Equal(t, 3, m.MaxLossStreak)
	assert.InDelta(t, 0.011, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.03, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 10110, m.FinalEquity, 1e-9)
}

func TestMetrics_InfiniteProfitFactorEncodes(t *testing.T) {
	m := Metrics{ProfitFactor: math.Inf(1), WinningTrades: 2}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":"Inf"`)
	assert.Contains(t, string(data), `"winning_trades":2`)

	data, err = json.Marshal(Metrics{ProfitFactor: 1.5})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":1.5`)
}

func TestPrepareBars(t *testing.T) {
	bars := []domain.Bar{
		{Symbol: "SBER", Timestamp: day0.AddDate(0, 0, 1), Close: 2},
		{Symbol: "GAZP", Timestamp: day0.AddDate(0, 0, 1), Close: 20},
		{Symbol: "SBER", Timestamp: day0, Close: 1},
		{Symbol: "SBER", Timestamp: day0, Close: 999},
		{Symbol: "LKOH", Timestamp: day0, Close: 5},
		{Symbol: "SBER", Timestamp: day0.AddDate(0, 0, 30), Close: 3},
	}
	got := PrepareBars(bars, []string{"SBER", "GAZP"}, day0, day0.AddDate(0, 0, 7))
	require.Len(t, got, 3)
	assert.InDelta(t, 1, got[0].Close, 1e-9, "first duplicate wins")
	assert.Equal(t, "GAZP", got[1].Symbol)
	assert.Equal(t, "SBER", got[2].Symbol)
}

func series(symbol string, closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Symbol: symbol, Timestamp: day0.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		}
	}
	return out
}

func swingRules() []domain.TradingRule {
	return []domain.TradingRule{
		{
			ID: "dip", IsActive: true, Priority: 1, RuleType: domain.RuleTypeEntry,
			Conditions: []domain.Condition{{Field: domain.FieldCurrentPrice, Operator: domain.OpLessThan, Value: "95"}},
			Actions:    []domain.Action{{Type: domain.ActionBuy, SizingMethod: domain.SizingFixed, SizeValue: 1000}},
		},
		{
			ID: "take", IsActive: true, Priority: 5, RuleType: domain.RuleTypeExit,
			Conditions: []domain.Condition{{Field: domain.FieldCurrentPrice, Operator: domain.OpGreaterThan, Value: "105"}},
			Actions:    []domain.Action{{Type: domain.ActionSell, SizingMethod: domain.SizingFullPosition}},
		},
	}
}

func newEngine() *Engine {
	log := logger.Discard()
	return NewEngine(rules.NewEngine(sizing.New(sizing.DefaultConfig()), log), log)
}

func swingConfig() Config {
	return Config{
		StrategyID:     "swing",
		StartDate:      day0,
		EndDate:        day0.AddDate(0, 0, 10),
		InitialCapital: 10000,
		Symbols:        []string{"SBER"},
		Rules:          swingRules(),
	}
}

func TestEngine_RunReplaysRules(t *testing.T) {
	res, err := newEngine().Run(context.Background(), swingConfig(), series("SBER", 100, 94, 100, 106, 100))
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.SideBuy, res.Trades[0].Side)
	assert.Equal(t, int64(10), res.Trades[0].Quantity)
	assert.Equal(t, "dip", res.Trades[0].RuleID)
	assert.Equal(t, domain.SideSell, res.Trades[1].Side)
	assert.InDelta(t, 120, res.Trades[1].PnL, 1e-9)

	assert.Len(t, res.EquityCurve, 5)
	assert.InDelta(t, 10120, res.FinalCash, 1e-9)
	assert.Empty(t, res.Positions)
	assert.InDelta(t, 0.012, res.Metrics.TotalReturn, 1e-9)
	assert.Equal(t, 1, res.Metrics.WinningTrades)
	assert.True(t, math.IsInf(res.Metrics.ProfitFactor, 1))
}

func TestEngine_WarmupDelaysTrading(t *testing.T) {
	cfg := swingConfig()
	cfg.WarmupBars = 2
	res, err := newEngine().Run(context.Background(), cfg, series("SBER", 100, 94, 100, 106, 100))
	require.NoError(t, err)
	assert.Empty(t, res.Trades, "the dip falls inside the warmup")
	assert.Len(t, res.EquityCurve, 5)
}

func TestEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newEngine().Run(ctx, swingConfig(), series("SBER", 100, 94))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{InitialCapital: 0, StartDate: day0, EndDate: day0, Commission: 1, Slippage: -0.1}
	err := cfg.Validate()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Reasons, 4)
}

func TestRunner_PersistsResult(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	source := marketdata.NewStatic(nil, series("SBER", 100, 94, 100, 106, 100))
	runner := NewRunner(source, newEngine(), store, nil, logger.Discard())

	record, res, err := runner.Run(ctx, swingConfig())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, record.TradeCount)
	assert.Equal(t, "backtest", record.PortfolioID)
	assert.Contains(t, record.MetricsJSON, `"profit_factor":"Inf"`)
	assert.Contains(t, record.ConfigJSON, `"strategy_id":"swing"`)

	saved, err := store.ListBacktests(ctx, "swing", 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, record.ID, saved[0].ID)

	empty := swingConfig()
	empty.Symbols = []string{"NONE"}
	_, _, err = runner.Run(ctx, empty)
	assert.Error(t, err)
}
