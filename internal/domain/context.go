package domain

// TradingContext is the snapshot a rule is evaluated against. It is rebuilt every
// tick and never persisted.
type TradingContext struct {
	Symbol         string
	CurrentPrice   float64
	PreviousClose  float64
	PortfolioValue float64
	CashBalance    float64
	Positions      []PositionSnapshot
	Recommendation *Recommendation
	Technical      *TechnicalIndicators
	Performance    *PerformanceStats
}

// Position returns the snapshot for the context symbol, if held.
func (c *TradingContext) Position() (PositionSnapshot, bool) {
	for _, p := range c.Positions {
		if p.Symbol == c.Symbol && p.Quantity > 0 {
			return p, true
		}
	}
	return PositionSnapshot{}, false
}

func (c *TradingContext) OpenPositions() int {
	n := 0
	for _, p := range c.Positions {
		if p.Quantity > 0 {
			n++
		}
	}
	return n
}

type PositionSnapshot struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
}

func (p PositionSnapshot) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

func (p PositionSnapshot) PnL() float64 {
	return (p.CurrentPrice - p.AvgPrice) * float64(p.Quantity)
}

func (p PositionSnapshot) PnLPercentage() float64 {
	if p.AvgPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgPrice) / p.AvgPrice * 100
}

// Recommendation is an opaque signal produced outside this system.
type Recommendation struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type"`       // buy, sell, hold
	Confidence float64 `json:"confidence"` // 0-100
	Reasoning  string  `json:"reasoning,omitempty"`
}

type TechnicalIndicators struct {
	RSI            float64
	SMA20          float64
	SMA50          float64
	EMA12          float64
	EMA26          float64
	MACD           float64
	MACDSignal     float64
	BollingerUpper float64
	BollingerLower float64
	ATR            float64
	Volatility     float64 // stdev of daily returns
	Volume         float64
}

// PerformanceStats feeds Kelly sizing.
type PerformanceStats struct {
	WinRate float64
	AvgWin  float64
	AvgLoss float64
	Trades  int
}

// PortfolioSnapshot is what the brokerage reports for one portfolio.
type PortfolioSnapshot struct {
	PortfolioID string             `json:"portfolio_id"`
	Cash        float64            `json:"cash"`
	TotalValue  float64            `json:"total_value"`
	Positions   []PositionSnapshot `json:"positions"`
}

func (s *PortfolioSnapshot) Position(symbol string) (PositionSnapshot, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol && p.Quantity > 0 {
			return p, true
		}
	}
	return PositionSnapshot{}, false
}

func (s *PortfolioSnapshot) OpenPositions() int {
	n := 0
	for _, p := range s.Positions {
		if p.Quantity > 0 {
			n++
		}
	}
	return n
}
