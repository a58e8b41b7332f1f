package moex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/marketdata"
)

// FetchTopTickers lists the most traded TQBR shares by turnover today.
func (c *Client) FetchTopTickers(ctx context.Context, limit int) ([]MarketTicker, error) {
	var iss marketdataResponse
	err := c.get(ctx, "/"+board+".json", map[string]string{
		"iss.only":           "marketdata",
		"marketdata.columns": "SECID,VALTODAY,LAST",
		"sort_column":        "VALTODAY",
		"sort_order":         "desc",
	}, &iss)
	if err != nil {
		return nil, fmt.Errorf("fetch top tickers: %w", err)
	}

	idx := iss.Marketdata.index()
	var result []MarketTicker
	for _, row := range iss.Marketdata.Data {
		ticker, _ := cell(row, idx, "SECID").(string)
		if ticker == "" {
			continue
		}

		lastPrice := toFloat64(cell(row, idx, "LAST"))
		if lastPrice == 0 {
			continue // trading halted
		}

		result = append(result, MarketTicker{
			Ticker:    ticker,
			ValToday:  toFloat64(cell(row, idx, "VALTODAY")),
			LastPrice: lastPrice,
		})

		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

// CurrentPrice returns the last trade, or the exchange market price when
// there has been no trade in the session yet.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var iss marketdataResponse
	err := c.get(ctx, "/"+board+"/"+symbol+".json", map[string]string{
		"iss.only":           "marketdata",
		"marketdata.columns": "SECID,LAST,MARKETPRICE,LCURRENTPRICE",
	}, &iss)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", symbol, err)
	}

	idx := iss.Marketdata.index()
	for _, row := range iss.Marketdata.Data {
		for _, col := range []string{"LAST", "LCURRENTPRICE", "MARKETPRICE"} {
			if p := toFloat64(cell(row, idx, col)); p > 0 {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("%s: %w", symbol, marketdata.ErrNoPrice)
}

// HistoricalBars loads daily candles, paging through ISS results.
func (c *Client) HistoricalBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for _, symbol := range symbols {
		got, err := c.dailyCandles(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		bars = append(bars, got...)
	}
	marketdata.SortBars(bars)
	return bars, nil
}

func (c *Client) dailyCandles(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for offset := 0; ; offset += candlePageSize {
		var iss candlesResponse
		err := c.get(ctx, "/"+board+"/"+symbol+"/candles.json", map[string]string{
			"from":     start.In(c.loc).Format("2006-01-02"),
			"till":     end.In(c.loc).Format("2006-01-02"),
			"interval": "24",
			"start":    strconv.Itoa(offset),
		}, &iss)
		if err != nil {
			return nil, fmt.Errorf("candles %s: %w", symbol, err)
		}

		idx := iss.Candles.index()
		for _, row := range iss.Candles.Data {
			begin, _ := cell(row, idx, "begin").(string)
			ts, err := time.ParseInLocation("2006-01-02 15:04:05", begin, c.loc)
			if err != nil {
				c.logger.Warn("skip candle with bad timestamp", "symbol", symbol, "begin", begin)
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    symbol,
				Timestamp: ts,
				Open:      toFloat64(cell(row, idx, "open")),
				High:      toFloat64(cell(row, idx, "high")),
				Low:       toFloat64(cell(row, idx, "low")),
				Close:     toFloat64(cell(row, idx, "close")),
				Volume:    toFloat64(cell(row, idx, "volume")),
			})
		}

		if len(iss.Candles.Data) < candlePageSize {
			break
		}
	}
	return bars, nil
}
