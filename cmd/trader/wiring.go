package main

import (
	"context"
	"fmt"

	"github.com/camuig/autotrader/internal/broker"
	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/marketdata"
	"github.com/camuig/autotrader/internal/moex"
	"github.com/camuig/autotrader/internal/storage"
	"github.com/camuig/autotrader/internal/yahoo"
)

func openRepository(cfg *config.Config) (*storage.Repository, error) {
	db, err := storage.NewDatabase(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return storage.NewRepository(db), nil
}

// connectBroker returns nil in paper mode.
func connectBroker(ctx context.Context, cfg *config.Config, log *logger.Logger) (*broker.Tinkoff, error) {
	if cfg.Broker.Mode == config.BrokerPaper {
		return nil, nil
	}
	t, err := broker.NewTinkoff(ctx, cfg.Broker, log)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	return t, nil
}

func newMOEX(cfg *config.Config, log *logger.Logger) *moex.Client {
	return moex.NewClient(moex.Options{
		Timeout:           cfg.MarketDataTimeout(),
		RequestsPerMinute: cfg.MarketData.RequestsPerMinute,
		Burst:             cfg.MarketData.Burst,
		Location:          cfg.MOEXLocation(),
	}, log)
}

// marketSource picks the configured quote provider and wraps it with the
// default-price fallback.
func marketSource(cfg *config.Config, tinkoff *broker.Tinkoff, log *logger.Logger) (*marketdata.Resilient, error) {
	var inner marketdata.Source
	switch cfg.MarketData.Provider {
	case config.ProviderMOEX:
		inner = newMOEX(cfg, log)
	case config.ProviderYahoo:
		inner = yahoo.NewClient(yahoo.MOEXSuffix, log)
	case config.ProviderBroker:
		if tinkoff == nil {
			return nil, fmt.Errorf("market data provider %q needs a connected broker", cfg.MarketData.Provider)
		}
		inner = tinkoff
	default:
		return nil, fmt.Errorf("unknown market data provider %q", cfg.MarketData.Provider)
	}
	return marketdata.NewResilient(inner, cfg.MarketData.DefaultPrice, log), nil
}
