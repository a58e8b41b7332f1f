package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `Ты — опытный трейдер на российском фондовом рынке (MOEX).
Тебе дан один тикер: текущая цена, изменение к предыдущему закрытию, технические индикаторы и состояние портфеля.
Дай одну рекомендацию: BUY (покупка), SELL (закрытие позиции) или HOLD (ничего не делать).

Правила:
1. Не рекомендуй BUY, если позиция по тикеру уже открыта и тренд не подтверждён.
2. SELL имеет смысл только при открытой позиции.
3. Confidence от 0 до 100 — чем выше, тем увереннее в решении.
4. Кратко объясни решение в reasoning.

Ответ строго в JSON (один объект):
{
  "action": "BUY",
  "ticker": "SBER",
  "confidence": 75,
  "reasoning": "Причина решения"
}`

func BuildUserPrompt(req *AnalysisRequest) string {
	var sb strings.Builder

	sb.WriteString("## Портфель\n")
	sb.WriteString(fmt.Sprintf("Общий баланс: %.2f ₽ / Доступно: %.2f ₽\n", req.TotalValue, req.Cash))
	if p := req.Position; p != nil && p.Quantity > 0 {
		sb.WriteString(fmt.Sprintf("Позиция %s: %d шт, ср.цена %.2f, P&L %.2f (%+.1f%%)\n",
			p.Symbol, p.Quantity, p.AvgPrice, p.PnL(), p.PnLPercentage()))
	} else {
		sb.WriteString(fmt.Sprintf("Позиции по %s нет.\n", req.Symbol))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("## %s\n", req.Symbol))
	sb.WriteString(fmt.Sprintf("Цена: %.2f (%+.2f%% к закрытию %.2f)\n", req.Price, req.ChangePct(), req.PreviousClose))

	if t := req.Technical; t != nil {
		sb.WriteString("| Индикатор | Значение |\n")
		sb.WriteString("|-----------|----------|\n")
		rows := []struct {
			name  string
			value float64
		}{
			{"RSI(14)", t.RSI},
			{"SMA20", t.SMA20},
			{"SMA50", t.SMA50},
			{"MACD", t.MACD},
			{"MACD signal", t.MACDSignal},
			{"Bollinger верх", t.BollingerUpper},
			{"Bollinger низ", t.BollingerLower},
			{"ATR(14)", t.ATR},
			{"Волатильность", t.Volatility},
		}
		for _, r := range rows {
			sb.WriteString(fmt.Sprintf("| %s | %.4g |\n", r.name, r.value))
		}
	} else {
		sb.WriteString("Технические индикаторы недоступны.\n")
	}

	sb.WriteString("\nПроанализируй и выдай решение в JSON.")

	return sb.String()
}
