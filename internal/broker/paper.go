package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

// Quoter supplies the price a paper fill is struck at.
type Quoter interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type paperPosition struct {
	qty int64
	avg decimal.Decimal
}

type paperAccount struct {
	cash      decimal.Decimal
	positions map[string]*paperPosition
}

// Paper simulates a brokerage in memory. Every portfolio starts with the same
// cash and fills at the quoted price moved against the trader by slippage.
type Paper struct {
	mu       sync.Mutex
	quotes   Quoter
	cash     decimal.Decimal
	slippage decimal.Decimal
	accounts map[string]*paperAccount
	logger   *logger.Logger
}

func NewPaper(quotes Quoter, initialCash, slippage float64, log *logger.Logger) *Paper {
	return &Paper{
		quotes:   quotes,
		cash:     decimal.NewFromFloat(initialCash),
		slippage: decimal.NewFromFloat(slippage),
		accounts: make(map[string]*paperAccount),
		logger:   log,
	}
}

func (p *Paper) account(portfolioID string) *paperAccount {
	acc, ok := p.accounts[portfolioID]
	if !ok {
		acc = &paperAccount{cash: p.cash, positions: make(map[string]*paperPosition)}
		p.accounts[portfolioID] = acc
	}
	return acc
}

func (p *Paper) Execute(ctx context.Context, portfolioID, symbol string, side domain.Side, qty int64) (*domain.Fill, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", qty)
	}
	quote, err := p.quotes.CurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if quote <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}

	price := decimal.NewFromFloat(quote)
	if side == domain.SideBuy {
		price = price.Mul(decimal.NewFromInt(1).Add(p.slippage))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(p.slippage))
	}
	amount := price.Mul(decimal.NewFromInt(qty))

	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(portfolioID)
	pos := acc.positions[symbol]

	switch side {
	case domain.SideBuy:
		if amount.GreaterThan(acc.cash) {
			return nil, fmt.Errorf("insufficient cash: need %s, have %s", amount.StringFixed(2), acc.cash.StringFixed(2))
		}
		if pos == nil {
			pos = &paperPosition{}
			acc.positions[symbol] = pos
		}
		held := decimal.NewFromInt(pos.qty)
		pos.avg = pos.avg.Mul(held).Add(amount).Div(held.Add(decimal.NewFromInt(qty)))
		pos.qty += qty
		acc.cash = acc.cash.Sub(amount)
	case domain.SideSell:
		if pos == nil || pos.qty < qty {
			return nil, fmt.Errorf("insufficient position in %s", symbol)
		}
		pos.qty -= qty
		if pos.qty == 0 {
			delete(acc.positions, symbol)
		}
		acc.cash = acc.cash.Add(amount)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	fillPrice, _ := price.Float64()
	p.logger.Debug("paper fill", "portfolio_id", portfolioID, "symbol", symbol, "side", side, "qty", qty, "price", fillPrice)

	return &domain.Fill{
		BrokerOrderID: uuid.NewString(),
		Price:         fillPrice,
		Quantity:      qty,
		At:            time.Now(),
	}, nil
}

// PortfolioSnapshot marks positions to the latest quote. A position whose
// quote fails keeps its average price.
func (p *Paper) PortfolioSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error) {
	p.mu.Lock()
	acc := p.account(portfolioID)
	cash := acc.cash
	positions := make([]domain.PositionSnapshot, 0, len(acc.positions))
	for sym, pos := range acc.positions {
		avg, _ := pos.avg.Float64()
		positions = append(positions, domain.PositionSnapshot{Symbol: sym, Quantity: pos.qty, AvgPrice: avg, CurrentPrice: avg})
	}
	p.mu.Unlock()

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	total := cash
	for i := range positions {
		if px, err := p.quotes.CurrentPrice(ctx, positions[i].Symbol); err == nil && px > 0 {
			positions[i].CurrentPrice = px
		}
		total = total.Add(decimal.NewFromFloat(positions[i].CurrentPrice).Mul(decimal.NewFromInt(positions[i].Quantity)))
	}

	cashF, _ := cash.Float64()
	totalF, _ := total.Float64()
	return &domain.PortfolioSnapshot{
		PortfolioID: portfolioID,
		Cash:        cashF,
		TotalValue:  totalF,
		Positions:   positions,
	}, nil
}
