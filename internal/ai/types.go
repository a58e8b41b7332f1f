package ai

import (
	"context"

	"github.com/camuig/autotrader/internal/domain"
)

// Recommender produces an opaque buy/sell/hold signal for one symbol. A nil
// recommendation with a nil error means there is no opinion.
type Recommender interface {
	Recommend(ctx context.Context, req *AnalysisRequest) (*domain.Recommendation, error)
}

type AnalysisRequest struct {
	Symbol        string
	Price         float64
	PreviousClose float64
	Technical     *domain.TechnicalIndicators
	Position      *domain.PositionSnapshot
	Cash          float64
	TotalValue    float64
}

// ChangePct is the move from the previous close in percent.
func (r *AnalysisRequest) ChangePct() float64 {
	if r.PreviousClose == 0 {
		return 0
	}
	return (r.Price - r.PreviousClose) / r.PreviousClose * 100
}

type AIDecision struct {
	Action     string  `json:"action"` // BUY, SELL, HOLD
	Ticker     string  `json:"ticker"`
	Confidence float64 `json:"confidence"` // 0-100
	Reasoning  string  `json:"reasoning"`
}

// Noop never has an opinion.
type Noop struct{}

func (Noop) Recommend(context.Context, *AnalysisRequest) (*domain.Recommendation, error) {
	return nil, nil
}
