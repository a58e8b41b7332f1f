package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg.Text)
	}
	return tgbotapi.Message{}, b.err
}

func (b *fakeBot) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func TestNotifier_DeliversInBackground(t *testing.T) {
	bot := &fakeBot{}
	n := newNotifier(bot, 42, 10, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	n.Notify(domain.Event{Kind: domain.EventStrategyError, StrategyID: "s1", Message: "boom"})
	require.Eventually(t, func() bool { return bot.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-n.Done()
	assert.Contains(t, bot.sent[0], "boom")
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	bot := &fakeBot{}
	n := newNotifier(bot, 42, 2, logger.Discard())

	for i := 0; i < 5; i++ {
		n.Notify(domain.Event{Kind: domain.EventOrderFailed, Message: "x"})
	}
	assert.Len(t, n.queue, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Run(ctx)
	assert.Equal(t, 2, bot.count(), "queued events are flushed on shutdown")
}

func TestNotifier_SendErrorsAreSwallowed(t *testing.T) {
	bot := &fakeBot{err: errors.New("telegram down")}
	n := newNotifier(bot, 42, 1, logger.Discard())
	n.Notify(domain.Event{Kind: domain.EventOrderFailed, Message: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { n.Run(ctx) })
}

func TestNotifier_Disabled(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{Enabled: false}, logger.Discard())
	n.Notify(domain.Event{Message: "ignored"})
	n.Run(context.Background())
	<-n.Done()
}

func TestFormat(t *testing.T) {
	buy := Format(domain.Event{Kind: domain.EventOrderExecuted, Order: &domain.Order{
		Symbol: "SBER", Side: domain.SideBuy, ExecutedPrice: 250.5, ExecutedQuantity: 10,
	}})
	assert.Contains(t, buy, "*BUY* SBER")
	assert.Contains(t, buy, "250.50")

	sell := Format(domain.Event{Kind: domain.EventOrderExecuted, Order: &domain.Order{
		Symbol: "SBER", Side: domain.SideSell, ExecutedPrice: 260, ExecutedQuantity: 10, RealizedPnL: 95,
	}})
	assert.Contains(t, sell, "💰")

	stop := Format(domain.Event{Kind: domain.EventEmergencyStop, PortfolioID: "p1", Message: "drawdown_limit hit"})
	assert.Contains(t, stop, "drawdown\\_limit")
}
