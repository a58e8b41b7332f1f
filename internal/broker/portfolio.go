package broker

import (
	"context"
	"fmt"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/autotrader/internal/domain"
)

type portfolioResponse interface {
	GetTotalAmountPortfolio() *pb.MoneyValue
	GetTotalAmountCurrencies() *pb.MoneyValue
	GetPositions() []*pb.PortfolioPosition
}

// PortfolioSnapshot values the account in RUB. Currency positions count as
// cash and are not listed.
func (t *Tinkoff) PortfolioSnapshot(_ context.Context, portfolioID string) (*domain.PortfolioSnapshot, error) {
	accountID := t.account(portfolioID)
	resp, err := t.fetchPortfolio(accountID)
	if err != nil {
		return nil, err
	}

	snap := &domain.PortfolioSnapshot{
		PortfolioID: accountID,
		TotalValue:  money(resp.GetTotalAmountPortfolio()),
		Cash:        money(resp.GetTotalAmountCurrencies()),
	}
	for _, pos := range resp.GetPositions() {
		if pos.GetInstrumentType() == "currency" {
			continue
		}
		ticker, err := t.resolveInstrumentUID(pos.GetInstrumentUid())
		if err != nil {
			t.logger.Warn("resolve position ticker", "uid", pos.GetInstrumentUid(), "error", err)
			continue
		}
		snap.Positions = append(snap.Positions, domain.PositionSnapshot{
			Symbol:       ticker,
			Quantity:     int64(quotation(pos.GetQuantity())),
			AvgPrice:     money(pos.GetAveragePositionPrice()),
			CurrentPrice: money(pos.GetCurrentPrice()),
		})
	}
	return snap, nil
}

func (t *Tinkoff) fetchPortfolio(accountID string) (portfolioResponse, error) {
	if t.sandbox {
		r, err := t.client.NewSandboxServiceClient().GetSandboxPortfolio(accountID, pb.PortfolioRequest_RUB)
		if err != nil {
			return nil, fmt.Errorf("get sandbox portfolio: %w", err)
		}
		return r.PortfolioResponse, nil
	}
	r, err := t.client.NewOperationsServiceClient().GetPortfolio(accountID, pb.PortfolioRequest_RUB)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	return r.PortfolioResponse, nil
}

func money(v *pb.MoneyValue) float64 {
	if v == nil {
		return 0
	}
	return v.ToFloat()
}

func quotation(v *pb.Quotation) float64 {
	if v == nil {
		return 0
	}
	return v.ToFloat()
}
