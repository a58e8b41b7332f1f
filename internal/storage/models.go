package storage

import (
	"encoding/json"
	"time"

	"github.com/camuig/autotrader/internal/domain"
)

// PortfolioSnapshot is a point-in-time copy of a brokerage portfolio.
type PortfolioSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	PortfolioID    string  `gorm:"index;not null" json:"portfolio_id"`
	TotalValue     float64 `json:"total_value"`
	Cash           float64 `json:"cash"`
	PositionsCount int     `json:"positions_count"`
	PositionsJSON  string  `gorm:"type:text" json:"positions_json"`
}

func NewPortfolioSnapshot(s *domain.PortfolioSnapshot) *PortfolioSnapshot {
	rec := &PortfolioSnapshot{
		PortfolioID:    s.PortfolioID,
		TotalValue:     s.TotalValue,
		Cash:           s.Cash,
		PositionsCount: s.OpenPositions(),
	}
	if data, err := json.Marshal(s.Positions); err == nil {
		rec.PositionsJSON = string(data)
	}
	return rec
}

func models() []any {
	return []any{
		&domain.TradingRule{},
		&domain.Order{},
		&domain.BacktestResult{},
		&domain.TickLog{},
		&PortfolioSnapshot{},
	}
}
