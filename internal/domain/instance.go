package domain

import (
	"fmt"
	"time"
)

type ExecutionFrequency string

const (
	FrequencyMinute ExecutionFrequency = "minute"
	FrequencyHour   ExecutionFrequency = "hour"
	FrequencyDaily  ExecutionFrequency = "daily"
)

func (f ExecutionFrequency) Interval() (time.Duration, error) {
	switch f {
	case FrequencyMinute:
		return 60 * time.Second, nil
	case FrequencyHour:
		return 3600 * time.Second, nil
	case FrequencyDaily:
		return 86400 * time.Second, nil
	}
	return 0, fmt.Errorf("unknown execution frequency %q", f)
}

// RiskLimits are the portfolio-level limits the gatekeeper enforces.
type RiskLimits struct {
	MaxPositionPct    float64 `yaml:"max_position_pct" json:"max_position_pct"`     // percent of portfolio per trade
	MaxDailyLoss      float64 `yaml:"max_daily_loss" json:"max_daily_loss"`         // dollars
	MaxPositions      int     `yaml:"max_positions" json:"max_positions"`           // open positions
	VolatilityWarning float64 `yaml:"volatility_warning" json:"volatility_warning"` // daily stdev
	EmergencyDrawdown float64 `yaml:"emergency_drawdown" json:"emergency_drawdown"` // fraction, 0.10 = 10%
}

type DeploymentConfig struct {
	StrategyID         string             `yaml:"id" json:"strategy_id"`
	PortfolioID        string             `yaml:"portfolio_id" json:"portfolio_id"`
	Symbols            []string           `yaml:"symbols" json:"symbols"`
	ExecutionFrequency ExecutionFrequency `yaml:"execution_frequency" json:"execution_frequency"`
	RiskLimits         RiskLimits         `yaml:"risk_limits" json:"risk_limits"`
	Rules              []TradingRule      `yaml:"rules" json:"rules,omitempty"`
}

type InstanceStatus string

const (
	InstanceRunning InstanceStatus = "running"
	InstancePaused  InstanceStatus = "paused"
	InstanceStopped InstanceStatus = "stopped"
	InstanceError   InstanceStatus = "error"
)

var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceRunning: {InstancePaused, InstanceStopped, InstanceError},
	InstancePaused:  {InstanceRunning, InstanceStopped},
}

func (s InstanceStatus) CanTransition(next InstanceStatus) bool {
	for _, allowed := range instanceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Performance is the rolling performance of one strategy instance.
type Performance struct {
	TotalTrades   int       `json:"total_trades"`
	ClosedTrades  int       `json:"closed_trades"`
	WinningTrades int       `json:"winning_trades"`
	WinRate       float64   `json:"win_rate"`
	GrossWins     float64   `json:"gross_wins"`
	GrossLosses   float64   `json:"gross_losses"`
	RealizedPnL   float64   `json:"realized_pnl"`
	CurrentValue  float64   `json:"current_value"`
	PeakValue     float64   `json:"peak_value"`
	Drawdown      float64   `json:"drawdown"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Stats derives the Kelly inputs from realized trades.
func (p Performance) Stats() *PerformanceStats {
	if p.ClosedTrades == 0 {
		return nil
	}
	s := &PerformanceStats{WinRate: p.WinRate, Trades: p.ClosedTrades}
	if p.WinningTrades > 0 {
		s.AvgWin = p.GrossWins / float64(p.WinningTrades)
	}
	if losers := p.ClosedTrades - p.WinningTrades; losers > 0 {
		s.AvgLoss = p.GrossLosses / float64(losers)
	}
	return s
}

// InstanceSnapshot is a read-only copy of a strategy instance.
type InstanceSnapshot struct {
	ID          string           `json:"id"`
	StrategyID  string           `json:"strategy_id"`
	Config      DeploymentConfig `json:"config"`
	Status      InstanceStatus   `json:"status"`
	Performance Performance      `json:"performance"`
	ErrorCount  int              `json:"error_count"`
	LastError   string           `json:"last_error,omitempty"`
	StopReason  string           `json:"stop_reason,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	LastTickAt  time.Time        `json:"last_tick_at,omitempty"`
}
