// Package indicators computes the technical snapshot rules read as TECHNICAL_* fields.
package indicators

import (
	"math"

	"github.com/camuig/autotrader/internal/domain"
)

const (
	rsiPeriod       = 14
	atrPeriod       = 14
	bollingerPeriod = 20
	bollingerWidth  = 2.0
	volatilityDays  = 20

	// MinBars is the shortest history Compute accepts.
	MinBars = rsiPeriod + 1
)

// Compute builds indicators from one symbol's bars in time order. It returns nil
// when there is not enough history. Windows longer than the history shrink to it.
func Compute(bars []domain.Bar) *domain.TechnicalIndicators {
	if len(bars) < MinBars {
		return nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = ema12[i] - ema26[i]
	}
	signal := EMA(macd, 9)
	upper, lower := Bollinger(closes, bollingerPeriod, bollingerWidth)

	last := len(closes) - 1
	return &domain.TechnicalIndicators{
		RSI:            RSI(closes, rsiPeriod),
		SMA20:          SMA(closes, 20),
		SMA50:          SMA(closes, 50),
		EMA12:          ema12[last],
		EMA26:          ema26[last],
		MACD:           macd[last],
		MACDSignal:     signal[last],
		BollingerUpper: upper,
		BollingerLower: lower,
		ATR:            ATR(bars, atrPeriod),
		Volatility:     Volatility(closes, volatilityDays),
		Volume:         bars[last].Volume,
	}
}

// SMA averages the last period values.
func SMA(values []float64, period int) float64 {
	window := tail(values, period)
	if len(window) == 0 {
		return 0
	}
	return sum(window) / float64(len(window))
}

// EMA returns the exponential moving average series seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI uses Wilder smoothing. A series without losses reads 100.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Bollinger returns the upper and lower bands around the period SMA.
func Bollinger(closes []float64, period int, width float64) (upper, lower float64) {
	window := tail(closes, period)
	if len(window) == 0 {
		return 0, 0
	}
	mid := SMA(window, len(window))
	sd := stdev(window, mid)
	return mid + width*sd, mid - width*sd
}

// ATR is the simple average true range over the last period bars.
func ATR(bars []domain.Bar, period int) float64 {
	if len(bars) < 2 {
		return 0
	}
	tr := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		h, l := bars[i].High, bars[i].Low
		tr = append(tr, math.Max(h-l, math.Max(math.Abs(h-prev), math.Abs(l-prev))))
	}
	return SMA(tr, period)
}

// Volatility is the sample standard deviation of simple daily returns.
func Volatility(closes []float64, days int) float64 {
	window := tail(closes, days+1)
	if len(window) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, window[i]/window[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := sum(returns) / float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(returns)-1))
}

func stdev(values []float64, mean float64) float64 {
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)))
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
