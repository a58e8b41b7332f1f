// Package memory is an in-memory storage.Store used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/storage"
)

type Store struct {
	mu        sync.RWMutex
	rules     map[string]domain.TradingRule
	orders    map[string]domain.Order
	backtests map[string]domain.BacktestResult
	ticks     []domain.TickLog
	snapshots []storage.PortfolioSnapshot
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		rules:     make(map[string]domain.TradingRule),
		orders:    make(map[string]domain.Order),
		backtests: make(map[string]domain.BacktestResult),
		now:       time.Now,
	}
}

// Rules

func (s *Store) SaveRule(_ context.Context, r *domain.TradingRule) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.rules[r.ID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.rules[r.ID] = cloneRule(*r)
	return nil
}

func (s *Store) GetRule(_ context.Context, id string) (*domain.TradingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, domain.NotFound("rule", id)
	}
	out := cloneRule(r)
	return &out, nil
}

func (s *Store) ListRules(_ context.Context, f storage.RuleFilter) ([]domain.TradingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradingRule
	for _, r := range s.rules {
		if f.PortfolioID != "" && r.PortfolioID != f.PortfolioID {
			continue
		}
		if f.StrategyID != "" && r.StrategyID != f.StrategyID {
			continue
		}
		if f.ActiveOnly && !r.IsActive {
			continue
		}
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return domain.NotFound("rule", id)
	}
	delete(s.rules, id)
	return nil
}

func cloneRule(r domain.TradingRule) domain.TradingRule {
	r.Conditions = append([]domain.Condition(nil), r.Conditions...)
	r.Actions = append([]domain.Action(nil), r.Actions...)
	return r
}

// Orders

func (s *Store) CreateOrder(_ context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return storage.ErrDuplicateKey
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *Store) UpdateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[o.ID]
	if !ok {
		return domain.NotFound("order", o.ID)
	}
	o.CreatedAt = prev.CreatedAt
	o.UpdatedAt = s.now()
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound("order", id)
	}
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.matchOrders(f)
	sort.Slice(out, func(i, j int) bool {
		a, b := orderTime(out[i], f.ByExecution), orderTime(out[j], f.ByExecution)
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountOrders(_ context.Context, f domain.OrderFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchOrders(f)), nil
}

func (s *Store) matchOrders(f domain.OrderFilter) []domain.Order {
	var out []domain.Order
	for _, o := range s.orders {
		if f.PortfolioID != "" && o.PortfolioID != f.PortfolioID {
			continue
		}
		if f.StrategyID != "" && o.StrategyID != f.StrategyID {
			continue
		}
		if f.Symbol != "" && o.Symbol != f.Symbol {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, o.Status) {
			continue
		}
		if f.ByExecution && o.ExecutedAt == nil {
			continue
		}
		at := orderTime(o, f.ByExecution)
		if !f.From.IsZero() && at.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !at.Before(f.To) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	return out
}

func orderTime(o domain.Order, byExecution bool) time.Time {
	if byExecution && o.ExecutedAt != nil {
		return *o.ExecutedAt
	}
	return o.CreatedAt
}

func (s *Store) RealizedPnL(_ context.Context, portfolioID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, o := range s.orders {
		if o.PortfolioID != portfolioID || o.Status != domain.OrderExecuted || o.ExecutedAt == nil {
			continue
		}
		if o.ExecutedAt.Before(since) {
			continue
		}
		total += o.RealizedPnL
	}
	return total, nil
}

func (s *Store) DeleteOrders(_ context.Context, statuses []domain.OrderStatus, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, o := range s.orders {
		if hasStatus(statuses, o.Status) && o.CreatedAt.Before(before) {
			delete(s.orders, id)
			n++
		}
	}
	return n, nil
}

func hasStatus(list []domain.OrderStatus, st domain.OrderStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func cloneOrder(o domain.Order) domain.Order {
	if o.ExecutedAt != nil {
		t := *o.ExecutedAt
		o.ExecutedAt = &t
	}
	return o
}

// Backtests

func (s *Store) SaveBacktest(_ context.Context, b *domain.BacktestResult) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backtests[b.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.backtests[b.ID] = *b
	return nil
}

func (s *Store) GetBacktest(_ context.Context, id string) (*domain.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.backtests[id]
	if !ok {
		return nil, domain.NotFound("backtest", id)
	}
	return &b, nil
}

func (s *Store) ListBacktests(_ context.Context, strategyID string, limit int) ([]domain.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.BacktestResult
	for _, b := range s.backtests {
		if strategyID != "" && b.StrategyID != strategyID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Tick logs

func (s *Store) SaveTickLog(_ context.Context, l *domain.TickLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.ID = uint(len(s.ticks) + 1)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	s.ticks = append(s.ticks, *l)
	return nil
}

func (s *Store) RecentTickLogs(_ context.Context, strategyID string, limit int) ([]domain.TickLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TickLog
	for i := len(s.ticks) - 1; i >= 0; i-- {
		if strategyID != "" && s.ticks[i].StrategyID != strategyID {
			continue
		}
		out = append(out, s.ticks[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Portfolio snapshots

func (s *Store) SavePortfolioSnapshot(_ context.Context, snap *storage.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.ID = uint(len(s.snapshots) + 1)
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *Store) LatestSnapshot(_ context.Context, portfolioID string) (*storage.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].PortfolioID == portfolioID {
			out := s.snapshots[i]
			return &out, nil
		}
	}
	return nil, domain.NotFound("snapshot", portfolioID)
}

var _ storage.Store = (*Store)(nil)
