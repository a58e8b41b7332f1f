package domain

// FieldSelector names one value of a TradingContext a condition can compare against.
// The set is closed; rules referencing anything else fail validation.
type FieldSelector string

const (
	FieldCurrentPrice   FieldSelector = "current_price"
	FieldPortfolioValue FieldSelector = "portfolio_value"
	FieldCashBalance    FieldSelector = "cash_balance"
	FieldPriceChangePct FieldSelector = "price_change_pct"

	FieldPositionQuantity   FieldSelector = "position.quantity"
	FieldPositionAvgPrice   FieldSelector = "position.avg_price"
	FieldPositionPnL        FieldSelector = "position.pnl"
	FieldPositionPnLPercent FieldSelector = "position.pnl_percentage"
	FieldPositionHas        FieldSelector = "position.has_position"

	FieldRecommendationType       FieldSelector = "recommendation.type"
	FieldRecommendationConfidence FieldSelector = "recommendation.confidence"

	FieldRSI            FieldSelector = "technical.rsi"
	FieldSMA20          FieldSelector = "technical.sma_20"
	FieldSMA50          FieldSelector = "technical.sma_50"
	FieldEMA12          FieldSelector = "technical.ema_12"
	FieldEMA26          FieldSelector = "technical.ema_26"
	FieldMACD           FieldSelector = "technical.macd"
	FieldMACDSignal     FieldSelector = "technical.macd_signal"
	FieldBollingerUpper FieldSelector = "technical.bollinger_upper"
	FieldBollingerLower FieldSelector = "technical.bollinger_lower"
	FieldATR            FieldSelector = "technical.atr"
	FieldVolatility     FieldSelector = "technical.volatility"
	FieldVolume         FieldSelector = "technical.volume"
)

// FieldKind describes how a selector's value is compared.
type FieldKind int

const (
	KindNumber FieldKind = iota
	KindString
	KindBool
)

var knownFields = map[FieldSelector]FieldKind{
	FieldCurrentPrice:             KindNumber,
	FieldPortfolioValue:           KindNumber,
	FieldCashBalance:              KindNumber,
	FieldPriceChangePct:           KindNumber,
	FieldPositionQuantity:         KindNumber,
	FieldPositionAvgPrice:         KindNumber,
	FieldPositionPnL:              KindNumber,
	FieldPositionPnLPercent:       KindNumber,
	FieldPositionHas:              KindBool,
	FieldRecommendationType:       KindString,
	FieldRecommendationConfidence: KindNumber,
	FieldRSI:                      KindNumber,
	FieldSMA20:                    KindNumber,
	FieldSMA50:                    KindNumber,
	FieldEMA12:                    KindNumber,
	FieldEMA26:                    KindNumber,
	FieldMACD:                     KindNumber,
	FieldMACDSignal:               KindNumber,
	FieldBollingerUpper:           KindNumber,
	FieldBollingerLower:           KindNumber,
	FieldATR:                      KindNumber,
	FieldVolatility:               KindNumber,
	FieldVolume:                   KindNumber,
}

func (f FieldSelector) Known() bool {
	_, ok := knownFields[f]
	return ok
}

func (f FieldSelector) Kind() FieldKind {
	return knownFields[f]
}
