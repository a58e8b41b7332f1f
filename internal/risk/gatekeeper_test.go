package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

type stubPnL struct {
	pnl   float64
	since time.Time
	err   error
}

func (s *stubPnL) RealizedPnL(_ context.Context, _ string, since time.Time) (float64, error) {
	s.since = since
	return s.pnl, s.err
}

type stubPortfolios struct {
	values []float64
	snap   domain.PortfolioSnapshot
	err    error
}

func (s *stubPortfolios) PortfolioSnapshot(_ context.Context, id string) (*domain.PortfolioSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	snap := s.snap
	snap.PortfolioID = id
	if len(s.values) > 0 {
		snap.TotalValue = s.values[0]
		s.values = s.values[1:]
	}
	return &snap, nil
}

func portfolio() *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		PortfolioID: "p1",
		Cash:        50000,
		TotalValue:  100000,
		Positions: []domain.PositionSnapshot{
			{Symbol: "SBER", Quantity: 10, AvgPrice: 250, CurrentPrice: 260},
			{Symbol: "GAZP", Quantity: 5, AvgPrice: 150, CurrentPrice: 140},
		},
	}
}

func newGatekeeper(pnl *stubPnL, ps *stubPortfolios) *Gatekeeper {
	return NewGatekeeper(pnl, ps, logger.Discard())
}

func TestValidateTrade_PositionSizeSuggestsQuantity(t *testing.T) {
	g := newGatekeeper(&stubPnL{}, &stubPortfolios{})
	req := TradeRequest{PortfolioID: "p1", Symbol: "LKOH", Side: domain.SideBuy, Quantity: 30, Price: 1000, Portfolio: portfolio()}

	d, err := g.ValidateTrade(context.Background(), req, domain.RiskLimits{MaxPositionPct: 20})
	require.NoError(t, err)
	assert.False(t, d.IsAllowed)
	assert.Equal(t, int64(20), d.AdjustedQuantity)

	var rej *domain.RiskRejection
	require.ErrorAs(t, d.Rejection(), &rej)
	assert.Equal(t, int64(20), rej.SuggestedQuantity)

	req.Quantity = 20
	d, err = g.ValidateTrade(context.Background(), req, domain.RiskLimits{MaxPositionPct: 20})
	require.NoError(t, err)
	assert.True(t, d.IsAllowed)
	assert.Equal(t, int64(20), d.AdjustedQuantity)
	assert.NoError(t, d.Rejection())
}

func TestValidateTrade_DailyLoss(t *testing.T) {
	pnl := &stubPnL{pnl: -5000}
	g := newGatekeeper(pnl, &stubPortfolios{})
	g.now = func() time.Time { return time.Date(2024, 5, 6, 15, 30, 0, 0, time.UTC) }
	req := TradeRequest{PortfolioID: "p1", Symbol: "SBER", Side: domain.SideBuy, Quantity: 1, Price: 100, Portfolio: portfolio()}

	d, err := g.ValidateTrade(context.Background(), req, domain.RiskLimits{MaxDailyLoss: 5000})
	require.NoError(t, err)
	assert.False(t, d.IsAllowed)
	assert.Contains(t, d.Reason, "daily loss")
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), pnl.since)

	pnl.pnl = -4999
	d, err = g.ValidateTrade(context.Background(), req, domain.RiskLimits{MaxDailyLoss: 5000})
	require.NoError(t, err)
	assert.True(t, d.IsAllowed)
}

func TestValidateTrade_MaxPositions(t *testing.T) {
	g := newGatekeeper(&stubPnL{}, &stubPortfolios{})
	limits := domain.RiskLimits{MaxPositions: 2}

	newSymbol := TradeRequest{PortfolioID: "p1", Symbol: "LKOH", Side: domain.SideBuy, Quantity: 1, Price: 100, Portfolio: portfolio()}
	d, err := g.ValidateTrade(context.Background(), newSymbol, limits)
	require.NoError(t, err)
	assert.False(t, d.IsAllowed)

	addToHeld := newSymbol
	addToHeld.Symbol = "SBER"
	d, err = g.ValidateTrade(context.Background(), addToHeld, limits)
	require.NoError(t, err)
	assert.True(t, d.IsAllowed)
}

func TestValidateTrade_SellsSkipBlockingChecks(t *testing.T) {
	g := newGatekeeper(&stubPnL{pnl: -1e6}, &stubPortfolios{})
	req := TradeRequest{PortfolioID: "p1", Symbol: "SBER", Side: domain.SideSell, Quantity: 1000, Price: 1000, Volatility: 0.09, Portfolio: portfolio()}

	d, err := g.ValidateTrade(context.Background(), req, domain.RiskLimits{MaxPositionPct: 1, MaxDailyLoss: 1, MaxPositions: 1, VolatilityWarning: 0.05})
	require.NoError(t, err)
	assert.True(t, d.IsAllowed)
	assert.Len(t, d.Warnings, 1)
}

func TestValidateTrade_VolatilityWarningDoesNotBlock(t *testing.T) {
	g := newGatekeeper(&stubPnL{}, &stubPortfolios{})
	req := TradeRequest{PortfolioID: "p1", Symbol: "SBER", Side: domain.SideBuy, Quantity: 1, Price: 100, Volatility: 0.06, Portfolio: portfolio()}

	d, err := g.ValidateTrade(context.Background(), req, domain.RiskLimits{VolatilityWarning: 0.05})
	require.NoError(t, err)
	assert.True(t, d.IsAllowed)
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], "volatility")
}

func TestValidateTrade_FetchesPortfolio(t *testing.T) {
	ps := &stubPortfolios{err: errors.New("broker down")}
	g := newGatekeeper(&stubPnL{}, ps)
	req := TradeRequest{PortfolioID: "p1", Symbol: "SBER", Side: domain.SideBuy, Quantity: 1, Price: 100}

	_, err := g.ValidateTrade(context.Background(), req, domain.RiskLimits{})
	assert.ErrorContains(t, err, "broker down")
}

func TestCheckEmergencyStop_TracksHighWaterMark(t *testing.T) {
	ps := &stubPortfolios{values: []float64{100000, 120000, 110000, 108000}}
	g := newGatekeeper(&stubPnL{}, ps)
	ctx := context.Background()

	stop, dd, err := g.CheckEmergencyStop(ctx, "p1", 0)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Zero(t, dd)

	_, _, err = g.CheckEmergencyStop(ctx, "p1", 0)
	require.NoError(t, err)

	stop, dd, err = g.CheckEmergencyStop(ctx, "p1", 0)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.InDelta(t, 10000.0/120000, dd, 1e-9)

	stop, dd, err = g.CheckEmergencyStop(ctx, "p1", 0)
	require.NoError(t, err)
	assert.True(t, stop, "ten percent drawdown from the 120k peak")
	assert.InDelta(t, 0.10, dd, 1e-9)

	g.ResetHighWaterMark("p1")
	ps.values = []float64{108000}
	stop, _, err = g.CheckEmergencyStop(ctx, "p1", 0)
	require.NoError(t, err)
	assert.False(t, stop)
}

func TestPassThrough(t *testing.T) {
	adj, err := PassThrough{}.Adjust(context.Background(), AdjustRequest{Quantity: 7, Volatility: 0.03})
	require.NoError(t, err)
	assert.Equal(t, int64(7), adj.Quantity)
	assert.Equal(t, config.RiskMedium, adj.RiskLevel)

	assert.Equal(t, config.RiskLow, LevelForVolatility(0))
	assert.Equal(t, config.RiskHigh, LevelForVolatility(0.04))
}
