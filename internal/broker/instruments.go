package broker

import (
	"fmt"
)

func (t *Tinkoff) resolveInstrumentUID(uid string) (string, error) {
	if cached, ok := t.tickers.Load(uid); ok {
		return cached.(string), nil
	}

	instruments := t.client.NewInstrumentsServiceClient()
	resp, err := instruments.InstrumentByUid(uid)
	if err != nil {
		return "", fmt.Errorf("instrument by uid %s: %w", uid, err)
	}

	inst := resp.GetInstrument()
	t.remember(inst.GetTicker(), uid)
	t.lots.Store(uid, int64(inst.GetLot()))
	return inst.GetTicker(), nil
}

func (t *Tinkoff) remember(ticker, uid string) {
	t.tickers.Store(uid, ticker)
	t.uids.Store(ticker, uid)
}

// ResolveTickerToUID resolves a ticker to its instrument UID using the instruments service.
func (t *Tinkoff) ResolveTickerToUID(ticker string) (string, error) {
	if cached, ok := t.uids.Load(ticker); ok {
		return cached.(string), nil
	}

	instruments := t.client.NewInstrumentsServiceClient()
	resp, err := instruments.FindInstrument(ticker)
	if err != nil {
		return "", fmt.Errorf("find instrument %s: %w", ticker, err)
	}

	for _, inst := range resp.GetInstruments() {
		if inst.GetTicker() == ticker {
			t.remember(ticker, inst.GetUid())
			return inst.GetUid(), nil
		}
	}

	return "", fmt.Errorf("instrument not found: %s", ticker)
}

// lotSize returns how many units one lot of the instrument holds.
func (t *Tinkoff) lotSize(uid string) (int64, error) {
	if cached, ok := t.lots.Load(uid); ok {
		return cached.(int64), nil
	}
	if _, err := t.resolveInstrumentUID(uid); err != nil {
		return 0, err
	}
	lot, _ := t.lots.Load(uid)
	if n, _ := lot.(int64); n > 0 {
		return n, nil
	}
	return 1, nil
}
