package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

const defaultQueueSize = 100

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers events to a Telegram chat from a background goroutine.
// Notify never blocks: when the queue is full the event is dropped.
type Notifier struct {
	bot     sender
	chatID  int64
	enabled bool
	queue   chan domain.Event
	logger  *logger.Logger

	once sync.Once
	done chan struct{}
}

func NewNotifier(cfg config.TelegramConfig, log *logger.Logger) *Notifier {
	if !cfg.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)
	return newNotifier(bot, cfg.ChatID, cfg.QueueSize, log)
}

func newNotifier(bot sender, chatID int64, queueSize int, log *logger.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Notifier{
		bot:     bot,
		chatID:  chatID,
		enabled: true,
		queue:   make(chan domain.Event, queueSize),
		logger:  log,
		done:    make(chan struct{}),
	}
}

func (n *Notifier) Notify(e domain.Event) {
	if !n.enabled {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("telegram queue full, dropping event", "kind", e.Kind, "strategy_id", e.StrategyID)
	}
}

// Run sends queued events until ctx is cancelled, then flushes what is left.
func (n *Notifier) Run(ctx context.Context) {
	if !n.enabled {
		return
	}
	defer n.once.Do(func() { close(n.done) })

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-n.queue:
					n.send(Format(e))
				default:
					return
				}
			}
		case e := <-n.queue:
			n.send(Format(e))
		}
	}
}

// Done is closed once Run has returned.
func (n *Notifier) Done() <-chan struct{} {
	if !n.enabled {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return n.done
}

// Format renders an event as a Markdown message.
func Format(e domain.Event) string {
	switch e.Kind {
	case domain.EventOrderExecuted:
		if o := e.Order; o != nil {
			if o.Side == domain.SideBuy {
				return fmt.Sprintf("🟢 *BUY* %s\nЦена: %.2f ₽\nКол-во: %d\nСтратегия: %s",
					o.Symbol, o.ExecutedPrice, o.ExecutedQuantity, orDash(o.StrategyID))
			}
			emoji := "🔴"
			if o.RealizedPnL > 0 {
				emoji = "💰"
			}
			return fmt.Sprintf("%s *SELL* %s\nЦена: %.2f ₽\nКол-во: %d\nP&L: %.2f ₽",
				emoji, o.Symbol, o.ExecutedPrice, o.ExecutedQuantity, o.RealizedPnL)
		}
	case domain.EventOrderFailed:
		return fmt.Sprintf("⚠️ *Ордер отклонён*\n%s", escape(e.Message))
	case domain.EventEmergencyStop:
		return fmt.Sprintf("🛑 *Аварийная остановка* [%s]\n%s", e.PortfolioID, escape(e.Message))
	case domain.EventStrategyError:
		return fmt.Sprintf("⚠️ *Ошибка* [%s]\n%s", e.StrategyID, escape(e.Message))
	}
	return escape(e.Message)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var escaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string {
	return escaper.Replace(s)
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
