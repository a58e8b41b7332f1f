package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camuig/autotrader/internal/domain"
)

// Repository is the gorm-backed Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func translate(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFound(kind, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s %q: %w", kind, id, ErrDuplicateKey)
	}
	return err
}

// Rules

func (r *Repository) SaveRule(ctx context.Context, rule *domain.TradingRule) error {
	if rule == nil || rule.ID == "" {
		return ErrInvalidInput
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rule).Error
}

func (r *Repository) GetRule(ctx context.Context, id string) (*domain.TradingRule, error) {
	var rule domain.TradingRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, translate(err, "rule", id)
	}
	return &rule, nil
}

func (r *Repository) ListRules(ctx context.Context, f RuleFilter) ([]domain.TradingRule, error) {
	q := r.db.WithContext(ctx).Model(&domain.TradingRule{})
	if f.PortfolioID != "" {
		q = q.Where("portfolio_id = ?", f.PortfolioID)
	}
	if f.StrategyID != "" {
		q = q.Where("strategy_id = ?", f.StrategyID)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var rules []domain.TradingRule
	err := q.Order("priority DESC").Order("id").Find(&rules).Error
	return rules, err
}

func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.TradingRule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("rule", id)
	}
	return nil
}

// Orders

func (r *Repository) CreateOrder(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return ErrInvalidInput
	}
	return translate(r.db.WithContext(ctx).Create(o).Error, "order", o.ID)
}

func (r *Repository) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res := r.db.WithContext(ctx).Model(o).Select("*").Omit("created_at").Updates(o)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("order", o.ID)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, translate(err, "order", id)
	}
	return &o, nil
}

func (r *Repository) orderQuery(ctx context.Context, f domain.OrderFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&domain.Order{})
	if f.PortfolioID != "" {
		q = q.Where("portfolio_id = ?", f.PortfolioID)
	}
	if f.StrategyID != "" {
		q = q.Where("strategy_id = ?", f.StrategyID)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	column := "created_at"
	if f.ByExecution {
		column = "executed_at"
		q = q.Where("executed_at IS NOT NULL")
	}
	if !f.From.IsZero() {
		q = q.Where(column+" >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where(column+" < ?", f.To)
	}
	return q
}

func (r *Repository) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	order := "created_at DESC"
	if f.ByExecution {
		order = "executed_at DESC"
	}
	q := r.orderQuery(ctx, f).Order(order)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var orders []domain.Order
	err := q.Find(&orders).Error
	return orders, err
}

func (r *Repository) CountOrders(ctx context.Context, f domain.OrderFilter) (int, error) {
	var n int64
	err := r.orderQuery(ctx, f).Count(&n).Error
	return int(n), err
}

func (r *Repository) RealizedPnL(ctx context.Context, portfolioID string, since time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("portfolio_id = ? AND status = ? AND executed_at >= ?", portfolioID, domain.OrderExecuted, since).
		Select("COALESCE(SUM(realized_pnl), 0)").Scan(&total).Error
	return total, err
}

func (r *Repository) DeleteOrders(ctx context.Context, statuses []domain.OrderStatus, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, before).
		Delete(&domain.Order{})
	return res.RowsAffected, res.Error
}

// Backtests

func (r *Repository) SaveBacktest(ctx context.Context, b *domain.BacktestResult) error {
	if b == nil || b.ID == "" {
		return ErrInvalidInput
	}
	return translate(r.db.WithContext(ctx).Create(b).Error, "backtest", b.ID)
}

func (r *Repository) GetBacktest(ctx context.Context, id string) (*domain.BacktestResult, error) {
	var b domain.BacktestResult
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err, "backtest", id)
	}
	return &b, nil
}

func (r *Repository) ListBacktests(ctx context.Context, strategyID string, limit int) ([]domain.BacktestResult, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if strategyID != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []domain.BacktestResult
	err := q.Find(&results).Error
	return results, err
}

// Tick logs

func (r *Repository) SaveTickLog(ctx context.Context, l *domain.TickLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *Repository) RecentTickLogs(ctx context.Context, strategyID string, limit int) ([]domain.TickLog, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if strategyID != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var logs []domain.TickLog
	err := q.Find(&logs).Error
	return logs, err
}

// Portfolio Snapshots

func (r *Repository) SavePortfolioSnapshot(ctx context.Context, s *PortfolioSnapshot) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repository) LatestSnapshot(ctx context.Context, portfolioID string) (*PortfolioSnapshot, error) {
	var s PortfolioSnapshot
	err := r.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").Order("id DESC").First(&s).Error
	if err != nil {
		return nil, translate(err, "snapshot", portfolioID)
	}
	return &s, nil
}

var _ Store = (*Repository)(nil)
