// Package risk enforces portfolio limits before a trade reaches the brokerage.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

const DefaultEmergencyDrawdown = 0.10

type PnLSource interface {
	RealizedPnL(ctx context.Context, portfolioID string, since time.Time) (float64, error)
}

type PortfolioSource interface {
	PortfolioSnapshot(ctx context.Context, portfolioID string) (*domain.PortfolioSnapshot, error)
}

type TradeRequest struct {
	PortfolioID string
	Symbol      string
	Side        domain.Side
	Quantity    int64
	Price       float64
	Volatility  float64
	// Portfolio is fetched from the PortfolioSource when nil.
	Portfolio *domain.PortfolioSnapshot
}

type Decision struct {
	IsAllowed        bool     `json:"is_allowed"`
	Reason           string   `json:"reason,omitempty"`
	AdjustedQuantity int64    `json:"adjusted_quantity"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Rejection converts a blocked decision into a *domain.RiskRejection.
func (d Decision) Rejection() error {
	if d.IsAllowed {
		return nil
	}
	return &domain.RiskRejection{Reason: d.Reason, SuggestedQuantity: d.AdjustedQuantity}
}

type Gatekeeper struct {
	pnl        PnLSource
	portfolios PortfolioSource
	logger     *logger.Logger
	now        func() time.Time

	mu  sync.Mutex
	hwm map[string]float64
}

func NewGatekeeper(pnl PnLSource, portfolios PortfolioSource, log *logger.Logger) *Gatekeeper {
	return &Gatekeeper{
		pnl:        pnl,
		portfolios: portfolios,
		logger:     log,
		now:        time.Now,
		hwm:        make(map[string]float64),
	}
}

// ValidateTrade runs the limit checks in order and stops at the first breach.
// Sells only reduce exposure and skip the blocking checks.
func (g *Gatekeeper) ValidateTrade(ctx context.Context, req TradeRequest, limits domain.RiskLimits) (Decision, error) {
	d := Decision{IsAllowed: true, AdjustedQuantity: req.Quantity}

	if limits.VolatilityWarning > 0 && req.Volatility > limits.VolatilityWarning {
		d.Warnings = append(d.Warnings, fmt.Sprintf("volatility %.4f above %.4f", req.Volatility, limits.VolatilityWarning))
	}
	if req.Side == domain.SideSell {
		return d, nil
	}
	if req.Quantity <= 0 || req.Price <= 0 {
		return reject(d, "invalid quantity or price", 0), nil
	}

	portfolio := req.Portfolio
	if portfolio == nil {
		var err error
		portfolio, err = g.portfolios.PortfolioSnapshot(ctx, req.PortfolioID)
		if err != nil {
			return Decision{}, fmt.Errorf("get portfolio %s: %w", req.PortfolioID, err)
		}
	}

	if limits.MaxPositionPct > 0 && portfolio.TotalValue > 0 {
		maxValue := portfolio.TotalValue * limits.MaxPositionPct / 100
		if value := float64(req.Quantity) * req.Price; value > maxValue {
			suggested := int64(math.Floor(maxValue / req.Price))
			return reject(d, fmt.Sprintf("position value %.2f exceeds %.1f%% of portfolio (%.2f)", value, limits.MaxPositionPct, maxValue), suggested), nil
		}
	}

	if limits.MaxDailyLoss > 0 {
		realized, err := g.pnl.RealizedPnL(ctx, req.PortfolioID, startOfDay(g.now()))
		if err != nil {
			return Decision{}, fmt.Errorf("get daily pnl: %w", err)
		}
		if -realized >= limits.MaxDailyLoss {
			return reject(d, fmt.Sprintf("daily loss %.2f reached limit %.2f", -realized, limits.MaxDailyLoss), 0), nil
		}
	}

	if limits.MaxPositions > 0 {
		if _, held := portfolio.Position(req.Symbol); !held && portfolio.OpenPositions() >= limits.MaxPositions {
			return reject(d, fmt.Sprintf("%d open positions, limit %d", portfolio.OpenPositions(), limits.MaxPositions), 0), nil
		}
	}

	return d, nil
}

func reject(d Decision, reason string, suggested int64) Decision {
	d.IsAllowed = false
	d.Reason = reason
	d.AdjustedQuantity = suggested
	return d
}

func startOfDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// CheckEmergencyStop tracks the portfolio high-water mark and reports whether
// the current drawdown reached threshold (DefaultEmergencyDrawdown when <= 0).
func (g *Gatekeeper) CheckEmergencyStop(ctx context.Context, portfolioID string, threshold float64) (bool, float64, error) {
	if threshold <= 0 {
		threshold = DefaultEmergencyDrawdown
	}
	snap, err := g.portfolios.PortfolioSnapshot(ctx, portfolioID)
	if err != nil {
		return false, 0, fmt.Errorf("get portfolio %s: %w", portfolioID, err)
	}

	g.mu.Lock()
	peak := math.Max(g.hwm[portfolioID], snap.TotalValue)
	g.hwm[portfolioID] = peak
	g.mu.Unlock()

	if peak <= 0 {
		return false, 0, nil
	}
	drawdown := math.Max(0, (peak-snap.TotalValue)/peak)
	if drawdown >= threshold {
		g.logger.Warn("emergency drawdown breached",
			"portfolio_id", portfolioID,
			"drawdown", drawdown,
			"threshold", threshold,
			"peak", peak,
			"value", snap.TotalValue,
		)
		return true, drawdown, nil
	}
	return false, drawdown, nil
}

// ResetHighWaterMark forgets the tracked peak, e.g. after an operator restart.
func (g *Gatekeeper) ResetHighWaterMark(portfolioID string) {
	g.mu.Lock()
	delete(g.hwm, portfolioID)
	g.mu.Unlock()
}
