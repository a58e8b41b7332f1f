// Package marketdata defines the price and bar sources the trading loop reads from.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

var ErrNoPrice = errors.New("no price available")

type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type HistoricalSource interface {
	HistoricalBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error)
}

type Source interface {
	Provider
	HistoricalSource
}

// Resilient degrades a failing price lookup to the last price it saw for the
// symbol, then to a configured default. A zero default yields ErrNoPrice.
type Resilient struct {
	inner        Source
	defaultPrice float64
	logger       *logger.Logger

	mu   sync.RWMutex
	last map[string]float64
}

func NewResilient(inner Source, defaultPrice float64, log *logger.Logger) *Resilient {
	return &Resilient{
		inner:        inner,
		defaultPrice: defaultPrice,
		logger:       log,
		last:         make(map[string]float64),
	}
}

func (r *Resilient) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := r.inner.CurrentPrice(ctx, symbol)
	if err == nil && price > 0 {
		r.mu.Lock()
		r.last[symbol] = price
		r.mu.Unlock()
		return price, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	r.mu.RLock()
	last, ok := r.last[symbol]
	r.mu.RUnlock()
	if ok {
		r.logger.Warn("using last known price", "symbol", symbol, "price", last, "error", err)
		return last, nil
	}
	if r.defaultPrice > 0 {
		r.logger.Warn("using default price", "symbol", symbol, "price", r.defaultPrice, "error", err)
		return r.defaultPrice, nil
	}
	if err == nil {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return 0, fmt.Errorf("%s: %w: %v", symbol, ErrNoPrice, err)
}

func (r *Resilient) HistoricalBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	return r.inner.HistoricalBars(ctx, symbols, start, end)
}

// Static serves fixed prices and bars. Paper runs without network access use it
// and it backs tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]float64
	bars   []domain.Bar
}

func NewStatic(prices map[string]float64, bars []domain.Bar) *Static {
	s := &Static{prices: make(map[string]float64, len(prices))}
	for k, v := range prices {
		s.prices[k] = v
	}
	s.bars = append(s.bars, bars...)
	return s
}

func (s *Static) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

func (s *Static) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prices[symbol]; ok && p > 0 {
		return p, nil
	}
	// fall back to the latest bar close
	var latest *domain.Bar
	for i := range s.bars {
		b := &s.bars[i]
		if b.Symbol == symbol && (latest == nil || b.Timestamp.After(latest.Timestamp)) {
			latest = b
		}
	}
	if latest != nil {
		return latest.Close, nil
	}
	return 0, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
}

func (s *Static) HistoricalBars(_ context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}

	s.mu.RLock()
	var out []domain.Bar
	for _, b := range s.bars {
		if !want[b.Symbol] || b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	s.mu.RUnlock()

	SortBars(out)
	return out, nil
}

// SortBars orders bars by timestamp, then symbol.
func SortBars(bars []domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}

// Closes extracts the close series of one symbol from time-ordered bars.
func Closes(bars []domain.Bar, symbol string) []float64 {
	var out []float64
	for _, b := range bars {
		if b.Symbol == symbol {
			out = append(out, b.Close)
		}
	}
	return out
}
