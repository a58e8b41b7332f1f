package yahoo

import (
	"context"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/logger"
)

func TestSymbolSuffix(t *testing.T) {
	c := NewClient(MOEXSuffix, logger.Discard())
	assert.Equal(t, "SBER.ME", c.symbol("SBER"))
	assert.Equal(t, "SBER.ME", c.symbol("SBER.ME"))

	plain := NewClient("", logger.Discard())
	assert.Equal(t, "AAPL", plain.symbol("AAPL"))
}

func TestToBar(t *testing.T) {
	ts := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	bar := toBar("SBER", &finance.ChartBar{
		Open:      decimal.RequireFromString("310.5"),
		High:      decimal.RequireFromString("315"),
		Low:       decimal.RequireFromString("309.25"),
		Close:     decimal.RequireFromString("314.1"),
		Volume:    4200000,
		Timestamp: int(ts.Unix()),
	})

	assert.Equal(t, "SBER", bar.Symbol)
	assert.Equal(t, ts, bar.Timestamp)
	assert.InDelta(t, 310.5, bar.Open, 1e-9)
	assert.InDelta(t, 309.25, bar.Low, 1e-9)
	assert.InDelta(t, 314.1, bar.Close, 1e-9)
	assert.InDelta(t, 4200000, bar.Volume, 1e-9)
}

func TestCancelledContext(t *testing.T) {
	c := NewClient(MOEXSuffix, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CurrentPrice(ctx, "SBER")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.HistoricalBars(ctx, []string{"SBER"}, time.Now().AddDate(0, -1, 0), time.Now())
	require.ErrorIs(t, err, context.Canceled)
}
