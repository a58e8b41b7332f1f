package rules

import (
	"github.com/camuig/autotrader/internal/domain"
)

// value is a resolved context field. Missing data resolves to the zero value of
// the field's kind, which keeps half-configured strategies inert.
type value struct {
	kind domain.FieldKind
	num  float64
	str  string
	flag bool
}

func number(v float64) value { return value{kind: domain.KindNumber, num: v} }

type accessor func(tc *domain.TradingContext) value

func technical(pick func(t *domain.TechnicalIndicators) float64) accessor {
	return func(tc *domain.TradingContext) value {
		if tc.Technical == nil {
			return number(0)
		}
		return number(pick(tc.Technical))
	}
}

func position(pick func(p domain.PositionSnapshot) float64) accessor {
	return func(tc *domain.TradingContext) value {
		p, ok := tc.Position()
		if !ok {
			return number(0)
		}
		return number(pick(p))
	}
}

var accessors = map[domain.FieldSelector]accessor{
	domain.FieldCurrentPrice:   func(tc *domain.TradingContext) value { return number(tc.CurrentPrice) },
	domain.FieldPortfolioValue: func(tc *domain.TradingContext) value { return number(tc.PortfolioValue) },
	domain.FieldCashBalance:    func(tc *domain.TradingContext) value { return number(tc.CashBalance) },
	domain.FieldPriceChangePct: func(tc *domain.TradingContext) value {
		if tc.PreviousClose <= 0 {
			return number(0)
		}
		return number((tc.CurrentPrice - tc.PreviousClose) / tc.PreviousClose * 100)
	},

	domain.FieldPositionQuantity:   position(func(p domain.PositionSnapshot) float64 { return float64(p.Quantity) }),
	domain.FieldPositionAvgPrice:   position(func(p domain.PositionSnapshot) float64 { return p.AvgPrice }),
	domain.FieldPositionPnL:        position(func(p domain.PositionSnapshot) float64 { return p.PnL() }),
	domain.FieldPositionPnLPercent: position(func(p domain.PositionSnapshot) float64 { return p.PnLPercentage() }),
	domain.FieldPositionHas: func(tc *domain.TradingContext) value {
		_, ok := tc.Position()
		return value{kind: domain.KindBool, flag: ok}
	},

	domain.FieldRecommendationType: func(tc *domain.TradingContext) value {
		if tc.Recommendation == nil {
			return value{kind: domain.KindString}
		}
		return value{kind: domain.KindString, str: tc.Recommendation.Type}
	},
	domain.FieldRecommendationConfidence: func(tc *domain.TradingContext) value {
		if tc.Recommendation == nil {
			return number(0)
		}
		return number(tc.Recommendation.Confidence)
	},

	domain.FieldRSI:            technical(func(t *domain.TechnicalIndicators) float64 { return t.RSI }),
	domain.FieldSMA20:          technical(func(t *domain.TechnicalIndicators) float64 { return t.SMA20 }),
	domain.FieldSMA50:          technical(func(t *domain.TechnicalIndicators) float64 { return t.SMA50 }),
	domain.FieldEMA12:          technical(func(t *domain.TechnicalIndicators) float64 { return t.EMA12 }),
	domain.FieldEMA26:          technical(func(t *domain.TechnicalIndicators) float64 { return t.EMA26 }),
	domain.FieldMACD:           technical(func(t *domain.TechnicalIndicators) float64 { return t.MACD }),
	domain.FieldMACDSignal:     technical(func(t *domain.TechnicalIndicators) float64 { return t.MACDSignal }),
	domain.FieldBollingerUpper: technical(func(t *domain.TechnicalIndicators) float64 { return t.BollingerUpper }),
	domain.FieldBollingerLower: technical(func(t *domain.TechnicalIndicators) float64 { return t.BollingerLower }),
	domain.FieldATR:            technical(func(t *domain.TechnicalIndicators) float64 { return t.ATR }),
	domain.FieldVolatility:     technical(func(t *domain.TechnicalIndicators) float64 { return t.Volatility }),
	domain.FieldVolume:         technical(func(t *domain.TechnicalIndicators) float64 { return t.Volume }),
}

func resolve(field domain.FieldSelector, tc *domain.TradingContext) (value, bool) {
	get, ok := accessors[field]
	if !ok || tc == nil {
		return value{}, false
	}
	return get(tc), true
}
