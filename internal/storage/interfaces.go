package storage

import (
	"context"
	"time"

	"github.com/camuig/autotrader/internal/domain"
)

// RuleFilter narrows rule queries. Zero values are ignored.
type RuleFilter struct {
	PortfolioID string
	StrategyID  string
	ActiveOnly  bool
}

type RuleStore interface {
	// SaveRule inserts or replaces a rule by ID.
	SaveRule(ctx context.Context, r *domain.TradingRule) error
	GetRule(ctx context.Context, id string) (*domain.TradingRule, error)
	ListRules(ctx context.Context, f RuleFilter) ([]domain.TradingRule, error)
	DeleteRule(ctx context.Context, id string) error
}

type OrderStore interface {
	// CreateOrder returns ErrDuplicateKey if the ID exists.
	CreateOrder(ctx context.Context, o *domain.Order) error
	UpdateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// ListOrders returns matches newest first.
	ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
	CountOrders(ctx context.Context, f domain.OrderFilter) (int, error)
	// RealizedPnL sums realized PnL of orders executed at or after since.
	RealizedPnL(ctx context.Context, portfolioID string, since time.Time) (float64, error)
	// DeleteOrders removes orders in the given statuses created before the cutoff.
	DeleteOrders(ctx context.Context, statuses []domain.OrderStatus, before time.Time) (int64, error)
}

type BacktestStore interface {
	SaveBacktest(ctx context.Context, r *domain.BacktestResult) error
	GetBacktest(ctx context.Context, id string) (*domain.BacktestResult, error)
	ListBacktests(ctx context.Context, strategyID string, limit int) ([]domain.BacktestResult, error)
}

type TickLogStore interface {
	SaveTickLog(ctx context.Context, l *domain.TickLog) error
	RecentTickLogs(ctx context.Context, strategyID string, limit int) ([]domain.TickLog, error)
}

type SnapshotStore interface {
	SavePortfolioSnapshot(ctx context.Context, s *PortfolioSnapshot) error
	LatestSnapshot(ctx context.Context, portfolioID string) (*PortfolioSnapshot, error)
}

// Store is everything the service persists.
type Store interface {
	RuleStore
	OrderStore
	BacktestStore
	TickLogStore
	SnapshotStore
}
