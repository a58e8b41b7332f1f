package domain

import "time"

type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// BacktestResult is the persisted outcome of one backtest run.
type BacktestResult struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	StrategyID  string    `gorm:"index" json:"strategy_id"`
	PortfolioID string    `gorm:"index" json:"portfolio_id"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	TradeCount  int       `json:"trade_count"`
	TotalReturn float64   `json:"total_return"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown float64   `json:"max_drawdown"`
	ConfigJSON  string    `gorm:"type:text" json:"config_json"`
	MetricsJSON string    `gorm:"type:text" json:"metrics_json"`
}

// TickLog records one orchestrator evaluation cycle.
type TickLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	StrategyID      string `gorm:"index" json:"strategy_id"`
	PortfolioID     string `json:"portfolio_id"`
	SymbolsChecked  int    `json:"symbols_checked"`
	RulesTriggered  int    `json:"rules_triggered"`
	OrdersSubmitted int    `json:"orders_submitted"`
	DecisionsJSON   string `gorm:"type:text" json:"decisions_json"`
	Error           string `json:"error"`
}
