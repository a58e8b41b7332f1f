package rules

import (
	"fmt"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/sizing"
)

// ActionResult is an unexecuted trade intent produced by a fired rule.
type ActionResult struct {
	RuleID       string              `json:"rule_id"`
	Symbol       string              `json:"symbol"`
	Side         domain.Side         `json:"side"`
	Quantity     int64               `json:"quantity"`
	Price        float64             `json:"price"`
	PriceType    domain.PriceType    `json:"price_type"`
	SizingMethod domain.SizingMethod `json:"sizing_method"`
	DollarAmount float64             `json:"dollar_amount"`
	Reasoning    string              `json:"reasoning"`
	Skipped      bool                `json:"skipped,omitempty"`
	SkipReason   string              `json:"skip_reason,omitempty"`
}

// Decision is the outcome of one symbol's evaluation.
type Decision struct {
	Symbol    string
	Triggered []domain.TradingRule
	Selected  *domain.TradingRule
	Intents   []ActionResult
}

// Executable returns the intents that carry a non-zero quantity.
func (d *Decision) Executable() []ActionResult {
	if d == nil {
		return nil
	}
	var out []ActionResult
	for _, in := range d.Intents {
		if !in.Skipped {
			out = append(out, in)
		}
	}
	return out
}

type Engine struct {
	sizer  *sizing.Sizer
	logger *logger.Logger
}

func NewEngine(sizer *sizing.Sizer, log *logger.Logger) *Engine {
	return &Engine{sizer: sizer, logger: log}
}

// Decide prioritizes, evaluates and conflict-resolves the rules, then sizes the
// winner's actions. At most one rule is selected per call.
func (e *Engine) Decide(rules []domain.TradingRule, tc *domain.TradingContext) *Decision {
	d := &Decision{Symbol: tc.Symbol}
	for _, r := range PrioritizeRules(rules) {
		if Evaluate(r, tc) {
			d.Triggered = append(d.Triggered, r)
		}
	}
	winner := ConflictResolution(d.Triggered)
	if len(winner) == 0 {
		return d
	}
	d.Selected = &winner[0]
	d.Intents = e.ExecuteActions(*d.Selected, tc)

	e.logger.Debug("rule selected",
		"symbol", tc.Symbol,
		"rule_id", d.Selected.ID,
		"triggered", len(d.Triggered),
		"intents", len(d.Intents),
	)
	return d
}

// ExecuteActions turns each action of the rule into a sized, priced intent.
// Nothing is submitted here.
func (e *Engine) ExecuteActions(rule domain.TradingRule, tc *domain.TradingContext) []ActionResult {
	results := make([]ActionResult, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		results = append(results, e.executeAction(rule.ID, a, tc))
	}
	return results
}

func (e *Engine) executeAction(ruleID string, a domain.Action, tc *domain.TradingContext) ActionResult {
	side := a.Type.Side()
	priceType := a.PriceType
	if priceType == "" {
		priceType = domain.PriceMarket
	}
	res := ActionResult{
		RuleID:       ruleID,
		Symbol:       tc.Symbol,
		Side:         side,
		PriceType:    priceType,
		SizingMethod: a.SizingMethod,
		Price:        OrderPrice(tc.CurrentPrice, side, priceType, a.PriceOffset),
	}

	if res.Price <= 0 {
		res.Skipped = true
		res.SkipReason = "no market price"
		return res
	}

	req := sizing.Request{
		Side:           side,
		Price:          res.Price,
		PortfolioValue: tc.PortfolioValue,
		Cash:           tc.CashBalance,
		SizeValue:      a.SizeValue,
	}
	if p, ok := tc.Position(); ok {
		req.HeldQuantity = p.Quantity
	}
	if tc.Performance != nil {
		req.WinRate = tc.Performance.WinRate
		req.AvgWin = tc.Performance.AvgWin
		req.AvgLoss = tc.Performance.AvgLoss
	}
	if tc.Technical != nil {
		req.Volatility = tc.Technical.Volatility
	}

	sized := e.sizer.Size(a.SizingMethod, req)
	res.Quantity = sized.Quantity
	res.DollarAmount = sized.DollarAmount
	res.SizingMethod = sized.Method
	res.Reasoning = sized.Reasoning
	if sized.Quantity <= 0 {
		res.Skipped = true
		res.SkipReason = fmt.Sprintf("sized to zero: %s", sized.Reasoning)
	}
	return res
}

// OrderPrice applies a percent offset to the market price. Limit orders are
// placed on the favourable side of the market, stop orders on the adverse side.
func OrderPrice(market float64, side domain.Side, pt domain.PriceType, offsetPct float64) float64 {
	off := offsetPct / 100
	switch pt {
	case domain.PriceLimit:
		if side == domain.SideBuy {
			return market * (1 - off)
		}
		return market * (1 + off)
	case domain.PriceStop:
		if side == domain.SideBuy {
			return market * (1 + off)
		}
		return market * (1 - off)
	}
	return market
}
