// Package notify pushes engagement alerts to external channels. Only
// Telegram is wired today; the notifier is outbound-only and never reads
// chat messages.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/telemetry"
)

// TelegramBot is the slice of the bot API the notifier uses; tests swap
// in a recording fake.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramNotifier struct {
	cfg        config.TelegramConfig
	bus        *bus.Bus
	bot        TelegramBot
	botFactory BotFactory
	cancel     context.CancelFunc
	unsub      func()
}

func NewTelegramNotifier(cfg config.TelegramConfig, b *bus.Bus) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramNotifierWithFactory creates a notifier with a custom bot
// factory (for testing).
func NewTelegramNotifierWithFactory(cfg config.TelegramConfig, b *bus.Bus, factory BotFactory) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	return &TelegramNotifier{
		cfg:        cfg,
		bus:        b,
		botFactory: factory,
	}, nil
}

func (n *TelegramNotifier) initBot() error {
	client := http.DefaultClient
	if n.cfg.Proxy != "" {
		proxyURL, err := url.Parse(n.cfg.Proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := n.botFactory(n.cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	n.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (n *TelegramNotifier) Start(ctx context.Context) error {
	if err := n.initBot(); err != nil {
		return err
	}

	ctx, n.cancel = context.WithCancel(ctx)
	events, unsub := n.bus.Subscribe()
	n.unsub = unsub

	go func() {
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Kind != bus.KindAlert {
					continue
				}
				n.deliver(*e.Alert)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] alert notifier started for chat %d", n.cfg.ChatID)
	return nil
}

func (n *TelegramNotifier) deliver(e bus.AlertEvent) {
	msg := tgbotapi.NewMessage(n.cfg.ChatID, formatAlert(e))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		// Retry as plain text; some alert content may trip the parser.
		msg.ParseMode = ""
		if _, err2 := n.bot.Send(msg); err2 != nil {
			log.Printf("[telegram] send alert failed: %v", err2)
		}
	}
}

func (n *TelegramNotifier) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.unsub != nil {
		n.unsub()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (n *TelegramNotifier) SetBot(bot TelegramBot) {
	n.bot = bot
}

func formatAlert(e bus.AlertEvent) string {
	icon := "⚠️"
	switch e.Alert.Type {
	case telemetry.AlertThreshold:
		icon = "🚨"
	case telemetry.AlertRecovery:
		icon = "✅"
	}
	return fmt.Sprintf("%s <b>%s</b> %s\nSession: %s\nTime: %s",
		icon, e.Alert.Type, e.Alert.Message, e.SessionID, e.Alert.Timestamp)
}
