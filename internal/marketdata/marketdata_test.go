package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

type flaky struct {
	*Static
	fail bool
}

func (f *flaky) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if f.fail {
		return 0, errors.New("iss unavailable")
	}
	return f.Static.CurrentPrice(ctx, symbol)
}

func TestResilient_FallsBackToLastKnownPrice(t *testing.T) {
	src := &flaky{Static: NewStatic(map[string]float64{"SBER": 250}, nil)}
	r := NewResilient(src, 0, logger.Discard())
	ctx := context.Background()

	p, err := r.CurrentPrice(ctx, "SBER")
	require.NoError(t, err)
	assert.InDelta(t, 250, p, 1e-9)

	src.fail = true
	p, err = r.CurrentPrice(ctx, "SBER")
	require.NoError(t, err)
	assert.InDelta(t, 250, p, 1e-9)

	_, err = r.CurrentPrice(ctx, "GAZP")
	assert.ErrorIs(t, err, ErrNoPrice, "zero default skips the symbol")
}

func TestResilient_DefaultPrice(t *testing.T) {
	src := &flaky{Static: NewStatic(nil, nil), fail: true}
	r := NewResilient(src, 100, logger.Discard())

	p, err := r.CurrentPrice(context.Background(), "LKOH")
	require.NoError(t, err)
	assert.InDelta(t, 100, p, 1e-9)
}

func TestResilient_CancelledContext(t *testing.T) {
	src := &flaky{Static: NewStatic(nil, nil), fail: true}
	r := NewResilient(src, 100, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.CurrentPrice(ctx, "LKOH")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatic_HistoricalBarsFilteredAndSorted(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	bars := []domain.Bar{
		{Symbol: "SBER", Timestamp: day(3), Close: 3},
		{Symbol: "GAZP", Timestamp: day(2), Close: 20},
		{Symbol: "SBER", Timestamp: day(2), Close: 2},
		{Symbol: "SBER", Timestamp: day(9), Close: 9},
		{Symbol: "LKOH", Timestamp: day(2), Close: 7},
	}
	s := NewStatic(nil, bars)

	got, err := s.HistoricalBars(context.Background(), []string{"SBER", "GAZP"}, day(1), day(5))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "GAZP", got[0].Symbol)
	assert.Equal(t, "SBER", got[1].Symbol)
	assert.Equal(t, []float64{2, 3}, Closes(got, "SBER"))

	p, err := s.CurrentPrice(context.Background(), "SBER")
	require.NoError(t, err)
	assert.InDelta(t, 9, p, 1e-9, "latest bar close when no price is set")
}
