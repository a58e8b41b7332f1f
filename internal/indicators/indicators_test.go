package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/domain"
)

func series(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: "SBER", Timestamp: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: float64(1000 + i)}
	}
	return bars
}

func ramp(n int, from, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

func TestSMA(t *testing.T) {
	assert.InDelta(t, 4, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
	assert.InDelta(t, 3, SMA([]float64{1, 2, 3, 4, 5}, 50), 1e-9, "window shrinks to history")
	assert.Zero(t, SMA(nil, 5))
}

func TestEMA_ConstantSeries(t *testing.T) {
	for _, v := range EMA([]float64{7, 7, 7, 7}, 3) {
		assert.InDelta(t, 7, v, 1e-9)
	}
}

func TestRSI(t *testing.T) {
	assert.InDelta(t, 100, RSI(ramp(20, 100, 1), 14), 1e-9, "only gains")
	assert.InDelta(t, 0, RSI(ramp(20, 100, -1), 14), 1e-9, "only losses")
	assert.InDelta(t, 50, RSI(ramp(20, 100, 0), 14), 1e-9, "flat")

	alternating := make([]float64, 30)
	for i := range alternating {
		alternating[i] = 100 + float64(i%2)
	}
	assert.InDelta(t, 50, RSI(alternating, 14), 5)
}

func TestBollingerAndATR(t *testing.T) {
	upper, lower := Bollinger([]float64{10, 10, 10}, 20, 2)
	assert.InDelta(t, 10, upper, 1e-9)
	assert.InDelta(t, 10, lower, 1e-9)

	upper, lower = Bollinger([]float64{8, 12}, 20, 2)
	assert.InDelta(t, 14, upper, 1e-9)
	assert.InDelta(t, 6, lower, 1e-9)

	assert.InDelta(t, 2, ATR(series(ramp(10, 100, 0)...), 14), 1e-9)
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, Volatility(ramp(30, 100, 0), 20))
	assert.Zero(t, Volatility([]float64{100, 101}, 20))

	v := Volatility([]float64{100, 102, 100, 102, 100}, 20)
	assert.Greater(t, v, 0.015)
	assert.Less(t, v, 0.03)
}

func TestCompute(t *testing.T) {
	assert.Nil(t, Compute(series(ramp(MinBars-1, 100, 1)...)))

	ti := Compute(series(ramp(60, 100, 1)...))
	require.NotNil(t, ti)
	assert.InDelta(t, 100, ti.RSI, 1e-9)
	assert.InDelta(t, 149.5, ti.SMA20, 1e-9)
	assert.InDelta(t, 134.5, ti.SMA50, 1e-9)
	assert.Greater(t, ti.EMA12, ti.EMA26, "uptrend")
	assert.Greater(t, ti.MACD, 0.0)
	assert.Greater(t, ti.BollingerUpper, ti.BollingerLower)
	assert.InDelta(t, 2, ti.ATR, 1e-9)
	assert.InDelta(t, 1059, ti.Volume, 1e-9)
}
