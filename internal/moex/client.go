// Package moex reads quotes and daily candles from the Moscow Exchange ISS API.
package moex

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/camuig/autotrader/internal/logger"
)

const (
	DefaultBaseURL = "https://iss.moex.com/iss"
	board          = "engines/stock/markets/shares/boards/TQBR/securities"
	candlePageSize = 500
)

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
	Location          *time.Location // candle timestamps are exchange local time
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	loc     *time.Location
	logger  *logger.Logger
}

func NewClient(opts Options, log *logger.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 120
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Location == nil {
		opts.Location = time.FixedZone("MSK", 3*60*60)
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetTimeout(opts.Timeout)
	client.SetQueryParam("iss.meta", "off")

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), opts.Burst),
		loc:     opts.Location,
		logger:  log,
	}
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("MOEX ISS returned status %d", resp.StatusCode())
	}
	return nil
}
