// Package yahoo serves quotes and daily bars from Yahoo Finance.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/marketdata"
)

// MOEXSuffix is appended to exchange tickers to form Yahoo symbols.
const MOEXSuffix = ".ME"

type Client struct {
	suffix string
	logger *logger.Logger
}

func NewClient(suffix string, log *logger.Logger) *Client {
	return &Client{suffix: suffix, logger: log}
}

func (c *Client) symbol(ticker string) string {
	if c.suffix == "" || strings.HasSuffix(ticker, c.suffix) {
		return ticker
	}
	return ticker + c.suffix
}

func (c *Client) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q, err := quote.Get(c.symbol(ticker))
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return 0, fmt.Errorf("%s: %w", ticker, marketdata.ErrNoPrice)
	}
	return q.RegularMarketPrice, nil
}

func (c *Client) HistoricalBars(ctx context.Context, tickers []string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := &chart.Params{
			Symbol:   c.symbol(ticker),
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}

		iter := chart.Get(params)
		n := 0
		for iter.Next() {
			bars = append(bars, toBar(ticker, iter.Bar()))
			n++
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("historical data for %s: %w", ticker, err)
		}
		c.logger.Debug("yahoo bars loaded", "ticker", ticker, "bars", n)
	}

	marketdata.SortBars(bars)
	return bars, nil
}

func toBar(ticker string, b *finance.ChartBar) domain.Bar {
	open, _ := b.Open.Float64()
	high, _ := b.High.Float64()
	low, _ := b.Low.Float64()
	closePx, _ := b.Close.Float64()
	return domain.Bar{
		Symbol:    ticker,
		Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    float64(b.Volume),
	}
}
