package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/camuig/autotrader/internal/backtest"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/moex"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(18)

	gainStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	lossStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// signed colours a value by its sign.
func signed(v float64, text string) string {
	switch {
	case v > 0:
		return gainStyle.Render(text)
	case v < 0:
		return lossStyle.Render(text)
	}
	return text
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

func renderBacktest(record *domain.BacktestResult, res *backtest.Result) string {
	m := res.Metrics
	pf := "∞"
	if !math.IsInf(m.ProfitFactor, 0) {
		pf = fmt.Sprintf("%.2f", m.ProfitFactor)
	}

	summary := []string{
		row("Strategy", res.Config.StrategyID),
		row("Period", fmt.Sprintf("%s .. %s", res.Config.StartDate.Format("2006-01-02"), res.Config.EndDate.Format("2006-01-02"))),
		row("Symbols", strings.Join(res.Config.Symbols, ", ")),
		row("Bars", fmt.Sprintf("%d", res.Bars)),
		"",
		row("Initial capital", fmt.Sprintf("%.2f", m.InitialCapital)),
		row("Final equity", signed(m.FinalEquity-m.InitialCapital, fmt.Sprintf("%.2f", m.FinalEquity))),
		row("Total return", signed(m.TotalReturn, pct(m.TotalReturn))),
		row("Annualized", signed(m.AnnualizedReturn, pct(m.AnnualizedReturn))),
		row("Sharpe", fmt.Sprintf("%.2f", m.SharpeRatio)),
		row("Max drawdown", lossStyle.Render(pct(-m.MaxDrawdown))),
		row("VaR 95%", pct(m.VaR95)),
		row("ES 95%", pct(m.ES95)),
		"",
		row("Trades", fmt.Sprintf("%d (%d closed)", m.TradeCount, m.ClosedTrades)),
		row("Win rate", fmt.Sprintf("%.1f%%", m.WinRate*100)),
		row("Profit factor", pf),
		row("Avg win / loss", fmt.Sprintf("%s / %s", gainStyle.Render(fmt.Sprintf("%.2f", m.AvgWin)), lossStyle.Render(fmt.Sprintf("%.2f", m.AvgLoss)))),
		row("Streaks", fmt.Sprintf("%d wins, %d losses", m.MaxWinStreak, m.MaxLossStreak)),
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Backtest report"))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(strings.Join(summary, "\n")))
	b.WriteString("\n")

	if len(res.Positions) > 0 {
		b.WriteString(infoStyle.Render("Open positions"))
		b.WriteString("\n")
		for _, p := range res.Positions {
			fmt.Fprintf(&b, "  %-8s %6d @ %.2f  last %.2f\n", p.Symbol, p.Quantity, p.EntryPrice, p.CurrentPrice)
		}
	}
	if record != nil {
		b.WriteString(infoStyle.Render("saved as " + record.ID))
		b.WriteString("\n")
	}
	return b.String()
}

func renderTickers(tickers []moex.MarketTicker) string {
	lines := []string{fmt.Sprintf("%-4s %-8s %12s %18s", "#", "TICKER", "LAST", "TURNOVER, RUB")}
	for i, t := range tickers {
		lines = append(lines, fmt.Sprintf("%-4d %-8s %12.2f %18.0f", i+1, t.Ticker, t.LastPrice, t.ValToday))
	}
	return titleStyle.Render("MOEX top by turnover") + "\n" + boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}
