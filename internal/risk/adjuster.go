package risk

import (
	"context"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
)

type AdjustRequest struct {
	StrategyID     string
	Symbol         string
	Side           domain.Side
	Quantity       int64
	Price          float64
	Volatility     float64
	Recommendation *domain.Recommendation
}

type Adjustment struct {
	Quantity  int64
	RiskLevel string
	Reason    string
}

// Adjuster lets a model resize a trade or grade its risk after the rules fired.
type Adjuster interface {
	Adjust(ctx context.Context, req AdjustRequest) (Adjustment, error)
}

// PassThrough keeps the quantity and grades risk by volatility alone.
type PassThrough struct{}

func (PassThrough) Adjust(_ context.Context, req AdjustRequest) (Adjustment, error) {
	return Adjustment{Quantity: req.Quantity, RiskLevel: LevelForVolatility(req.Volatility)}, nil
}

// LevelForVolatility maps daily return stdev onto low, medium and high.
func LevelForVolatility(v float64) string {
	switch {
	case v < 0.02:
		return config.RiskLow
	case v < 0.04:
		return config.RiskMedium
	default:
		return config.RiskHigh
	}
}
