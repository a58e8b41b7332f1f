package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"
)

// Tinkoff is the live or sandbox brokerage behind the Tinkoff Invest API.
// Portfolio ids are broker account ids.
type Tinkoff struct {
	client  *investgo.Client
	sandbox bool
	logger  *logger.Logger

	tickers sync.Map // instrument uid -> ticker
	uids    sync.Map // ticker -> instrument uid
	lots    sync.Map // instrument uid -> lot size
}

func NewTinkoff(ctx context.Context, cfg config.BrokerConfig, log *logger.Logger) (*Tinkoff, error) {
	sandbox := cfg.Mode == config.BrokerSandbox
	endpoint := liveEndpoint
	if sandbox {
		endpoint = sandboxEndpoint
	}

	investCfg := investgo.Config{
		EndPoint:  endpoint,
		Token:     cfg.Token,
		AccountId: cfg.AccountID,
		AppName:   "autotrader",
	}

	client, err := investgo.NewClient(ctx, investCfg, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}

	t := &Tinkoff{
		client:  client,
		sandbox: sandbox,
		logger:  log,
	}

	if sandbox && cfg.AccountID == "" {
		if err := t.setupSandbox(cfg.PaperCash); err != nil {
			return nil, fmt.Errorf("setup sandbox: %w", err)
		}
	}

	return t, nil
}

func (t *Tinkoff) setupSandbox(cash float64) error {
	sandbox := t.client.NewSandboxServiceClient()

	_, err := sandbox.SandboxPayIn(&investgo.SandboxPayInRequest{
		AccountId: t.client.Config.AccountId,
		Currency:  "RUB",
		Unit:      int64(cash),
		Nano:      0,
	})
	if err != nil {
		return fmt.Errorf("sandbox pay in: %w", err)
	}

	t.logger.Info("sandbox account funded", "account_id", t.client.Config.AccountId, "cash", cash)
	return nil
}

func (t *Tinkoff) account(portfolioID string) string {
	if portfolioID != "" {
		return portfolioID
	}
	return t.client.Config.AccountId
}

func (t *Tinkoff) Stop() error {
	return t.client.Stop()
}
