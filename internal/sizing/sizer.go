// Package sizing converts a trade intent into a whole-unit quantity.
package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/camuig/autotrader/internal/domain"
)

type Config struct {
	MaxPositionPct    float64 `yaml:"max_position_pct"`     // cap for fixed and percentage
	MaxVolAdjustedPct float64 `yaml:"max_vol_adjusted_pct"` // cap for volatility_adjusted
	KellyCap          float64 `yaml:"kelly_cap"`
	TargetVolatility  float64 `yaml:"target_volatility"`
	MaxRiskPct        float64 `yaml:"max_risk_pct"` // risk_parity ceiling, percent of portfolio
	FallbackPct       float64 `yaml:"fallback_pct"`
}

func DefaultConfig() Config {
	return Config{
		MaxPositionPct:    20,
		MaxVolAdjustedPct: 15,
		KellyCap:          0.25,
		TargetVolatility:  0.02,
		MaxRiskPct:        2,
		FallbackPct:       1,
	}
}

type Request struct {
	Side           domain.Side
	Price          float64
	PortfolioValue float64
	Cash           float64
	HeldQuantity   int64
	SizeValue      float64

	// kelly
	WinRate float64
	AvgWin  float64
	AvgLoss float64

	// volatility_adjusted, risk_parity
	Volatility float64
}

type Result struct {
	Method         domain.SizingMethod
	Quantity       int64
	DollarAmount   float64
	PctOfPortfolio float64
	Reasoning      string
}

type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer {
	def := DefaultConfig()
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = def.MaxPositionPct
	}
	if cfg.MaxVolAdjustedPct <= 0 {
		cfg.MaxVolAdjustedPct = def.MaxVolAdjustedPct
	}
	if cfg.KellyCap <= 0 {
		cfg.KellyCap = def.KellyCap
	}
	if cfg.TargetVolatility <= 0 {
		cfg.TargetVolatility = def.TargetVolatility
	}
	if cfg.MaxRiskPct <= 0 {
		cfg.MaxRiskPct = def.MaxRiskPct
	}
	if cfg.FallbackPct <= 0 {
		cfg.FallbackPct = def.FallbackPct
	}
	return &Sizer{cfg: cfg}
}

// Size runs the named method. Any internal failure falls back to percentage
// sizing at FallbackPct.
func (s *Sizer) Size(method domain.SizingMethod, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = s.fallback(req, fmt.Sprintf("panic: %v", r))
		}
	}()

	var err error
	switch method {
	case domain.SizingFixed:
		res, err = s.fixed(req)
	case domain.SizingPercentage:
		res, err = s.percentage(req, req.SizeValue)
	case domain.SizingKelly:
		res, err = s.kelly(req)
	case domain.SizingVolatilityAdjusted:
		res, err = s.volatilityAdjusted(req)
	case domain.SizingRiskParity:
		res, err = s.riskParity(req)
	case domain.SizingFullPosition:
		res, err = s.fullPosition(req)
	default:
		err = fmt.Errorf("unknown sizing method %q", method)
	}
	if err != nil {
		return s.fallback(req, err.Error())
	}
	res.Method = method
	return res
}

func (s *Sizer) fallback(req Request, cause string) Result {
	res, err := s.percentage(req, s.cfg.FallbackPct)
	if err != nil {
		return Result{Method: domain.SizingPercentage, Reasoning: "sizing unavailable: " + cause}
	}
	res.Method = domain.SizingPercentage
	res.Reasoning = fmt.Sprintf("fallback to %.0f%% (%s)", s.cfg.FallbackPct, cause)
	return res
}

func validate(req Request) error {
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return fmt.Errorf("invalid price %v", req.Price)
	}
	if req.PortfolioValue <= 0 || math.IsNaN(req.PortfolioValue) {
		return fmt.Errorf("invalid portfolio value %v", req.PortfolioValue)
	}
	return nil
}

func (s *Sizer) fixed(req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if req.SizeValue <= 0 {
		return Result{}, fmt.Errorf("fixed sizing needs a positive dollar amount")
	}
	limit := req.PortfolioValue * s.cfg.MaxPositionPct / 100
	dollars := math.Min(req.SizeValue, limit)
	reason := fmt.Sprintf("fixed $%.2f", req.SizeValue)
	if dollars < req.SizeValue {
		reason += fmt.Sprintf(" capped at %.0f%% of portfolio", s.cfg.MaxPositionPct)
	}
	return s.fromDollars(req, dollars, reason), nil
}

func (s *Sizer) percentage(req Request, pct float64) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if pct <= 0 {
		return Result{}, fmt.Errorf("percentage sizing needs a positive percent")
	}
	capped := math.Min(pct, s.cfg.MaxPositionPct)
	reason := fmt.Sprintf("%.2f%% of portfolio", capped)
	return s.fromDollars(req, req.PortfolioValue*capped/100, reason), nil
}

// KellyFraction returns the clamped Kelly fraction for the given payoff statistics.
func KellyFraction(winRate, avgWin, avgLoss, limit float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 || math.IsNaN(winRate) {
		return 0
	}
	p := math.Max(0, math.Min(1, winRate))
	q := 1 - p
	b := avgWin / avgLoss
	f := (b*p - q) / b
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return math.Min(f, limit)
}

func (s *Sizer) kelly(req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	f := KellyFraction(req.WinRate, req.AvgWin, req.AvgLoss, s.cfg.KellyCap)
	reason := fmt.Sprintf("kelly fraction %.4f (win rate %.2f, payoff %.2f/%.2f)", f, req.WinRate, req.AvgWin, req.AvgLoss)
	return s.fromDollars(req, req.PortfolioValue*f, reason), nil
}

func (s *Sizer) volatilityAdjusted(req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if req.SizeValue <= 0 {
		return Result{}, fmt.Errorf("volatility adjusted sizing needs a base percent")
	}
	if req.Volatility <= 0 {
		return Result{}, fmt.Errorf("volatility unavailable")
	}
	pct := math.Min(req.SizeValue*(s.cfg.TargetVolatility/req.Volatility), s.cfg.MaxVolAdjustedPct)
	reason := fmt.Sprintf("%.2f%% base scaled by target/current vol %.4f/%.4f", req.SizeValue, s.cfg.TargetVolatility, req.Volatility)
	return s.fromDollars(req, req.PortfolioValue*pct/100, reason), nil
}

func (s *Sizer) riskParity(req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if req.SizeValue <= 0 {
		return Result{}, fmt.Errorf("risk parity sizing needs a target risk amount")
	}
	if req.Volatility <= 0 {
		return Result{}, fmt.Errorf("volatility unavailable")
	}
	maxRisk := req.PortfolioValue * s.cfg.MaxRiskPct / 100
	risk := math.Min(req.SizeValue, maxRisk)
	qty := floorDiv(risk, req.Price*req.Volatility)
	reason := fmt.Sprintf("risk $%.2f over unit risk %.4f", risk, req.Price*req.Volatility)
	return s.finish(req, qty, reason), nil
}

func (s *Sizer) fullPosition(req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if req.Side == domain.SideSell {
		return s.finish(req, req.HeldQuantity, "close full position"), nil
	}
	return s.finish(req, floorDiv(req.Cash, req.Price), "all available cash"), nil
}

func (s *Sizer) fromDollars(req Request, dollars float64, reason string) Result {
	return s.finish(req, floorDiv(dollars, req.Price), reason)
}

// finish enforces the capital bounds: buys never exceed cash, sells never exceed holdings.
func (s *Sizer) finish(req Request, qty int64, reason string) Result {
	if qty < 0 {
		qty = 0
	}
	if req.Side == domain.SideSell {
		if qty > req.HeldQuantity {
			qty = req.HeldQuantity
			reason += "; clipped to held quantity"
		}
	} else if affordable := floorDiv(math.Max(req.Cash, 0), req.Price); qty > affordable {
		qty = affordable
		reason += "; clipped to available cash"
	}

	dollars := float64(qty) * req.Price
	res := Result{Quantity: qty, DollarAmount: dollars, Reasoning: reason}
	if req.PortfolioValue > 0 {
		res.PctOfPortfolio = dollars / req.PortfolioValue * 100
	}
	return res
}

func floorDiv(amount, unit float64) int64 {
	if unit <= 0 || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(unit)).Floor().IntPart()
}
