package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/autotrader/internal/domain"
)

type Position struct {
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	OpenedAt     time.Time `json:"opened_at"`
}

// TradeDetail is one simulated fill. Entries carry the commission as a
// negative pnl; exits carry the realized result net of commission.
type TradeDetail struct {
	Timestamp  time.Time   `json:"timestamp"`
	Symbol     string      `json:"symbol"`
	Side       domain.Side `json:"side"`
	Quantity   int64       `json:"quantity"`
	Price      float64     `json:"price"`
	Commission float64     `json:"commission"`
	PnL        float64     `json:"pnl"`
	RuleID     string      `json:"rule_id,omitempty"`
}

type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Portfolio is the virtual account of a single backtest run.
type Portfolio struct {
	Cash          float64
	Positions     map[string]*Position
	Trades        []TradeDetail
	EquityCurve   []Point
	DrawdownCurve []Point
	HighWaterMark float64

	commission float64
	slippage   float64
	perf       domain.Performance
}

func NewPortfolio(cash, commission, slippage float64) *Portfolio {
	return &Portfolio{
		Cash:          cash,
		Positions:     make(map[string]*Position),
		HighWaterMark: cash,
		commission:    commission,
		slippage:      slippage,
	}
}

// Enter buys qty at price plus slippage. The quantity shrinks to what cash
// covers including commission; false means nothing was affordable.
func (p *Portfolio) Enter(ts time.Time, symbol string, qty int64, price float64, ruleID string) (TradeDetail, bool) {
	if qty <= 0 || price <= 0 {
		return TradeDetail{}, false
	}
	fill := price * (1 + p.slippage)
	unit := fill * (1 + p.commission)
	if float64(qty)*unit > p.Cash {
		qty = affordable(p.Cash, unit)
		if qty <= 0 {
			return TradeDetail{}, false
		}
	}

	notional, commission := p.entryCost(qty, fill)
	for qty > 0 && notional+commission > p.Cash {
		qty--
		notional, commission = p.entryCost(qty, fill)
	}
	if qty <= 0 {
		return TradeDetail{}, false
	}
	p.Cash -= notional + commission

	pos, ok := p.Positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, OpenedAt: ts}
		p.Positions[symbol] = pos
	}
	total := pos.Quantity + qty
	pos.EntryPrice = (pos.EntryPrice*float64(pos.Quantity) + notional) / float64(total)
	pos.Quantity = total
	pos.CurrentPrice = fill

	t := TradeDetail{
		Timestamp:  ts,
		Symbol:     symbol,
		Side:       domain.SideBuy,
		Quantity:   qty,
		Price:      fill,
		Commission: commission,
		PnL:        -commission,
		RuleID:     ruleID,
	}
	p.Trades = append(p.Trades, t)
	p.perf.TotalTrades++
	return t, true
}

// Exit sells up to qty of the held position at price minus slippage and
// removes the position once it is fully closed.
func (p *Portfolio) Exit(ts time.Time, symbol string, qty int64, price float64, ruleID string) (TradeDetail, bool) {
	pos, ok := p.Positions[symbol]
	if !ok || qty <= 0 || price <= 0 {
		return TradeDetail{}, false
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	fill := price * (1 - p.slippage)
	notional := float64(qty) * fill
	commission := notional * p.commission
	pnl := (fill-pos.EntryPrice)*float64(qty) - commission
	p.Cash += notional - commission

	pos.Quantity -= qty
	pos.CurrentPrice = fill
	if pos.Quantity == 0 {
		delete(p.Positions, symbol)
	}

	t := TradeDetail{
		Timestamp:  ts,
		Symbol:     symbol,
		Side:       domain.SideSell,
		Quantity:   qty,
		Price:      fill,
		Commission: commission,
		PnL:        pnl,
		RuleID:     ruleID,
	}
	p.Trades = append(p.Trades, t)
	p.perf.TotalTrades++
	p.perf.ClosedTrades++
	p.perf.RealizedPnL += pnl
	if pnl > 0 {
		p.perf.WinningTrades++
		p.perf.GrossWins += pnl
	} else {
		p.perf.GrossLosses -= pnl
	}
	p.perf.WinRate = float64(p.perf.WinningTrades) / float64(p.perf.ClosedTrades)
	return t, true
}

// Update marks positions to the given closes and appends to the equity and
// drawdown curves. Symbols without a price keep their last mark.
func (p *Portfolio) Update(ts time.Time, prices map[string]float64) float64 {
	for sym, pos := range p.Positions {
		if px, ok := prices[sym]; ok && px > 0 {
			pos.CurrentPrice = px
		}
	}
	equity := p.Equity()
	p.HighWaterMark = math.Max(p.HighWaterMark, equity)

	drawdown := 0.0
	if p.HighWaterMark > 0 {
		drawdown = math.Max(0, (p.HighWaterMark-equity)/p.HighWaterMark)
	}
	p.EquityCurve = append(p.EquityCurve, Point{Timestamp: ts, Value: equity})
	p.DrawdownCurve = append(p.DrawdownCurve, Point{Timestamp: ts, Value: drawdown})
	return equity
}

func (p *Portfolio) Equity() float64 {
	equity := p.Cash
	for _, pos := range p.Positions {
		equity += float64(pos.Quantity) * pos.CurrentPrice
	}
	return equity
}

// Snapshot presents the virtual account the way a brokerage would.
func (p *Portfolio) Snapshot(portfolioID string) *domain.PortfolioSnapshot {
	snap := &domain.PortfolioSnapshot{
		PortfolioID: portfolioID,
		Cash:        p.Cash,
		TotalValue:  p.Equity(),
		Positions:   make([]domain.PositionSnapshot, 0, len(p.Positions)),
	}
	for _, pos := range p.Positions {
		snap.Positions = append(snap.Positions, domain.PositionSnapshot{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			AvgPrice:     pos.EntryPrice,
			CurrentPrice: pos.CurrentPrice,
		})
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Symbol < snap.Positions[j].Symbol })
	return snap
}

// Stats feeds Kelly sizing from the trades closed so far.
func (p *Portfolio) Stats() *domain.PerformanceStats {
	return p.perf.Stats()
}

// entryCost prices qty units in decimal so an exact multiple of the unit
// cost never rounds above the cash it was sized from.
func (p *Portfolio) entryCost(qty int64, fill float64) (notional, commission float64) {
	n := decimal.NewFromFloat(fill).Mul(decimal.NewFromInt(qty))
	c := n.Mul(decimal.NewFromFloat(p.commission))
	return n.InexactFloat64(), c.InexactFloat64()
}

func affordable(cash, unit float64) int64 {
	if cash <= 0 || unit <= 0 {
		return 0
	}
	return decimal.NewFromFloat(cash).Div(decimal.NewFromFloat(unit)).Floor().IntPart()
}
