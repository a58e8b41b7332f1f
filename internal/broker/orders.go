package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/autotrader/internal/domain"
)

// Execute places a market order. Quantities are instrument units and are
// rounded down to whole lots.
func (t *Tinkoff) Execute(_ context.Context, portfolioID, symbol string, side domain.Side, qty int64) (*domain.Fill, error) {
	uid, err := t.ResolveTickerToUID(symbol)
	if err != nil {
		return nil, err
	}
	lot, err := t.lotSize(uid)
	if err != nil {
		return nil, err
	}
	lots := qty / lot
	if lots < 1 {
		return nil, fmt.Errorf("quantity %d is below one lot of %d", qty, lot)
	}

	direction := pb.OrderDirection_ORDER_DIRECTION_BUY
	if side == domain.SideSell {
		direction = pb.OrderDirection_ORDER_DIRECTION_SELL
	}

	req := &investgo.PostOrderRequestShort{
		InstrumentId: uid,
		Quantity:     lots,
		AccountId:    t.account(portfolioID),
		OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
		OrderId:      investgo.CreateUid(),
	}

	var resp *investgo.PostOrderResponse
	if t.sandbox {
		sandbox := t.client.NewSandboxServiceClient()
		resp, err = sandbox.PostSandboxOrder(&investgo.PostOrderRequest{
			InstrumentId: req.InstrumentId,
			Quantity:     req.Quantity,
			Direction:    direction,
			AccountId:    req.AccountId,
			OrderType:    req.OrderType,
			OrderId:      req.OrderId,
		})
	} else {
		orders := t.client.NewOrdersServiceClient()
		if side == domain.SideSell {
			resp, err = orders.Sell(req)
		} else {
			resp, err = orders.Buy(req)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s order: %w", side, err)
	}

	fill := &domain.Fill{
		BrokerOrderID: resp.GetOrderId(),
		Quantity:      resp.GetLotsExecuted() * lot,
		Price:         money(resp.GetExecutedOrderPrice()),
		At:            time.Now(),
	}

	t.logger.Info("broker order filled",
		"symbol", symbol,
		"side", side,
		"lots", resp.GetLotsExecuted(),
		"price", fill.Price,
		"broker_order_id", fill.BrokerOrderID,
	)
	return fill, nil
}
