package backtest

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/camuig/autotrader/internal/domain"
)

const (
	tradingDays = 252
	varLevel    = 0.95
)

type Metrics struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalEquity      float64 `json:"final_equity"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`

	TradeCount    int     `json:"trade_count"`
	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	MaxWinStreak  int     `json:"max_win_streak"`
	MaxLossStreak int     `json:"max_loss_streak"`

	VaR95 float64 `json:"var_95"`
	ES95  float64 `json:"es_95"`
}

// MarshalJSON writes an infinite profit factor as the string "Inf", which
// encoding/json would otherwise refuse.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	if !math.IsInf(m.ProfitFactor, 0) {
		return json.Marshal(plain(m))
	}
	out := struct {
		plain
		ProfitFactor string `json:"profit_factor"`
	}{plain: plain(m), ProfitFactor: "Inf"}
	out.plain.ProfitFactor = 0
	return json.Marshal(out)
}

// ComputeMetrics derives the run statistics from the equity curve and the
// closed trades.
func ComputeMetrics(initial float64, equity, drawdown []Point, trades []TradeDetail) Metrics {
	m := Metrics{InitialCapital: initial, FinalEquity: initial, TradeCount: len(trades)}
	if n := len(equity); n > 0 {
		m.FinalEquity = equity[n-1].Value
	}
	if initial > 0 {
		m.TotalReturn = (m.FinalEquity - initial) / initial
	}
	m.AnnualizedReturn = annualize(m.TotalReturn, equity)

	returns := periodReturns(equity)
	m.SharpeRatio = Sharpe(returns)
	m.VaR95, m.ES95 = TailRisk(returns, varLevel)
	for _, p := range drawdown {
		m.MaxDrawdown = math.Max(m.MaxDrawdown, p.Value)
	}

	var wins, losses float64
	winStreak, lossStreak := 0, 0
	for _, t := range trades {
		if t.Side != domain.SideSell {
			continue
		}
		m.ClosedTrades++
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			wins += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
			winStreak++
			lossStreak = 0
		case t.PnL < 0:
			m.LosingTrades++
			losses += t.PnL
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		m.MaxWinStreak = max(m.MaxWinStreak, winStreak)
		m.MaxLossStreak = max(m.MaxLossStreak, lossStreak)
	}
	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = wins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = losses / float64(m.LosingTrades)
	}
	m.ProfitFactor = ProfitFactor(wins, losses)
	return m
}

// ProfitFactor is gross wins over absolute gross losses: +Inf with wins and
// no losses, 0 with no wins.
func ProfitFactor(wins, losses float64) float64 {
	if losses == 0 {
		if wins > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return wins / math.Abs(losses)
}

// Sharpe annualizes mean and sample deviation of per-bar returns over 252
// trading days. Zero variance gives 0.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, sd := meanStdev(returns)
	if sd == 0 {
		return 0
	}
	return mean * tradingDays / (sd * math.Sqrt(tradingDays))
}

// TailRisk returns the historical VaR and expected shortfall at the given
// confidence level from sorted returns.
func TailRisk(returns []float64, level float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - level) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	v := sorted[idx]
	if idx == 0 {
		return v, v
	}
	sum := 0.0
	for _, r := range sorted[:idx] {
		sum += r
	}
	return v, sum / float64(idx)
}

func periodReturns(equity []Point) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			continue
		}
		out = append(out, (equity[i].Value-prev)/prev)
	}
	return out
}

func meanStdev(xs []float64) (float64, float64) {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// annualize compounds the total return over the calendar span of the curve.
func annualize(total float64, equity []Point) float64 {
	if len(equity) < 2 || total <= -1 {
		return 0
	}
	days := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24
	if days < 1 {
		return 0
	}
	return math.Pow(1+total, 365/days) - 1
}
