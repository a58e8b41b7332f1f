package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/autotrader/internal/domain"
)

const candleConcurrency = 10

// CurrentPrice is the close of the latest hourly candle.
func (t *Tinkoff) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	uid, err := t.ResolveTickerToUID(symbol)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	md := t.client.NewMarketDataServiceClient()
	resp, err := md.GetCandles(
		uid,
		pb.CandleInterval_CANDLE_INTERVAL_HOUR,
		now.Add(-7*24*time.Hour), now,
		pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
		0,
	)
	if err != nil {
		return 0, fmt.Errorf("get candles %s: %w", symbol, err)
	}

	price := findCloseAtOffset(resp.GetCandles(), now, 0)
	if price <= 0 {
		return 0, fmt.Errorf("no candles for %s", symbol)
	}
	return price, nil
}

// HistoricalBars loads daily candles for every symbol, fetching symbols concurrently.
func (t *Tinkoff) HistoricalBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		sem  = make(chan struct{}, candleConcurrency)
		bars []domain.Bar
		errs []error
	)

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(s string) {
			defer wg.Done()
			defer func() { <-sem }()

			got, err := t.dailyBars(s, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.logger.Error("fetch candles", "ticker", s, "error", err)
				errs = append(errs, err)
				return
			}
			bars = append(bars, got...)
		}(symbol)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("historical bars: %w", errs[0])
	}

	sort.Slice(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
	return bars, nil
}

func (t *Tinkoff) dailyBars(symbol string, start, end time.Time) ([]domain.Bar, error) {
	uid, err := t.ResolveTickerToUID(symbol)
	if err != nil {
		return nil, err
	}

	md := t.client.NewMarketDataServiceClient()
	resp, err := md.GetCandles(
		uid,
		pb.CandleInterval_CANDLE_INTERVAL_DAY,
		start, end,
		pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
		0,
	)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(resp.GetCandles()))
	for _, c := range resp.GetCandles() {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: c.GetTime().AsTime(),
			Open:      quotation(c.GetOpen()),
			High:      quotation(c.GetHigh()),
			Low:       quotation(c.GetLow()),
			Close:     quotation(c.GetClose()),
			Volume:    float64(c.GetVolume()),
		})
	}
	return bars, nil
}

// findCloseAtOffset finds the close price of the candle closest to (now - offset).
func findCloseAtOffset(candles []*pb.HistoricCandle, now time.Time, offset time.Duration) float64 {
	target := now.Add(-offset)
	var bestCandle *pb.HistoricCandle
	var bestDiff time.Duration

	for _, c := range candles {
		t := c.GetTime().AsTime()
		diff := absDuration(t.Sub(target))
		if bestCandle == nil || diff < bestDiff {
			bestCandle = c
			bestDiff = diff
		}
	}

	if bestCandle == nil {
		return 0
	}
	return quotation(bestCandle.GetClose())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Tradable reports which symbols the API currently accepts market orders for.
func (t *Tinkoff) Tradable(symbols []string) (map[string]bool, error) {
	uids := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		uid, err := t.ResolveTickerToUID(s)
		if err != nil {
			continue
		}
		uids = append(uids, uid)
		bySymbol[uid] = s
	}

	result := make(map[string]bool, len(symbols))
	if len(uids) == 0 {
		return result, nil
	}

	md := t.client.NewMarketDataServiceClient()
	resp, err := md.GetTradingStatuses(uids)
	if err != nil {
		return nil, err
	}
	for _, s := range resp.GetTradingStatuses() {
		result[bySymbol[s.GetInstrumentUid()]] = s.GetApiTradeAvailableFlag() && s.GetMarketOrderAvailableFlag()
	}
	return result, nil
}
