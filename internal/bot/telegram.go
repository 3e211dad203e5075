// Package bot is the Telegram surface: the command handlers chats use to
// subscribe and query risk, and the sender the outbox delivers through.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/perpwatch/perpwatch/internal/alert"
	"github.com/perpwatch/perpwatch/internal/config"
	"github.com/perpwatch/perpwatch/internal/engine"
)

const helpText = `Commands:
/risk - risk overview for all symbols
/risk BTC - one symbol in detail
/risk BTC full - detail with reasons and data quality
/risk BTC debug - detail with raw funding numbers
/subscribe - receive alerts in this chat
/unsubscribe - stop receiving alerts
/help - this message`

const startText = `Perp market risk monitor.

This chat now receives risk alerts. Use /risk for the current picture, /commands for everything else.`

var million = decimal.NewFromInt(1_000_000)

// Bot serves the command surface. Alerts themselves flow through the
// outbox via Sender, not through Bot.
type Bot struct {
	api        *tgbotapi.BotAPI
	cfg        *config.Config
	recipients *alert.Recipients
	engine     *engine.Engine
}

func New(cfg *config.Config, recipients *alert.Recipients) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = false

	if cfg.TelegramChatID != 0 {
		recipients.Add(cfg.TelegramChatID)
	}

	log.Info().Str("username", api.Self.UserName).Msg("telegram bot authorized")
	return &Bot{api: api, cfg: cfg, recipients: recipients}, nil
}

// SetEngine attaches the evaluation engine the /risk commands read from.
// Call before Run.
func (b *Bot) SetEngine(eng *engine.Engine) {
	b.engine = eng
}

// Sender returns the delivery adapter for the outbox.
func (b *Bot) Sender() alert.Sender {
	return &TelegramSender{api: b.api}
}

// Run polls for updates until the context is canceled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("telegram bot stopped")
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	log.Debug().Int64("chat_id", chatID).Str("command", msg.Command()).Msg("command received")

	switch msg.Command() {
	case "start":
		b.recipients.Add(chatID)
		b.reply(chatID, startText)
	case "subscribe":
		b.recipients.Add(chatID)
		b.reply(chatID, "Subscribed. Alerts will arrive in this chat.")
	case "unsubscribe":
		b.recipients.Remove(chatID)
		b.reply(chatID, "Unsubscribed. This chat will not receive alerts.")
	case "help", "commands":
		b.reply(chatID, helpText)
	case "risk":
		b.reply(chatID, b.renderRisk(msg.CommandArguments()))
	default:
		b.reply(chatID, "Unknown command. Try /commands.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}

// renderRisk serves /risk, /risk SYM, /risk SYM full and /risk SYM debug.
func (b *Bot) renderRisk(args string) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(args)))
	if len(fields) == 0 {
		return b.renderOverview()
	}

	symbol := normalizeSymbol(fields[0])
	mode := ""
	if len(fields) > 1 {
		mode = strings.ToLower(fields[1])
	}

	view, ok := b.engine.View(symbol)
	if !ok {
		return fmt.Sprintf("%s is not tracked or has no evaluation yet.", displaySymbol(symbol))
	}
	return renderDetail(view, mode)
}

func (b *Bot) renderOverview() string {
	views := b.engine.Views()
	if len(views) == 0 {
		return "No evaluations yet, the monitor is warming up."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Risk overview, regime %s\n\n", b.engine.Regime())
	for _, v := range views {
		marker := ""
		if v.Score >= b.cfg.HardAlertLevel {
			marker = " 🚨"
		} else if v.Score >= b.cfg.EarlyAlertLevel {
			marker = " ⚠️"
		}
		fmt.Fprintf(&sb, "%s: %d %s, %s%s\n", displaySymbol(v.Symbol), v.Score, v.Direction, v.Trend, marker)
	}
	fmt.Fprintf(&sb, "\nAlerts in window: %d", b.engine.AlertsInWindow(time.Now()))
	return sb.String()
}

func renderDetail(v engine.SymbolView, mode string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s\n\n", displaySymbol(v.Symbol))
	fmt.Fprintf(&sb, "Risk: %d (%s)\n", v.Score, v.Trend)
	fmt.Fprintf(&sb, "Direction: %s\n", v.Direction)
	fmt.Fprintf(&sb, "Driver: %s\n", v.Driver)
	fmt.Fprintf(&sb, "Confidence: %s\n", v.ConfLevel)
	fmt.Fprintf(&sb, "Pressure: %.0f%% long\n", v.Pressure*100)
	if v.HasOIChange {
		fmt.Fprintf(&sb, "OI change: %+.1f%%\n", v.OIChange*100)
	}
	fmt.Fprintf(&sb, "Liquidations: %sM\n", v.LiqSum.Div(million).StringFixed(1))
	if v.HasFunding {
		fmt.Fprintf(&sb, "Funding: %s\n", qualitativeFunding(v.Funding))
	}
	if v.HasPrice {
		fmt.Fprintf(&sb, "Price: %s\n", v.Price.String())
	}

	switch mode {
	case "full":
		fmt.Fprintf(&sb, "\nData quality: %s\n", v.Quality)
		if len(v.Reasons) > 0 {
			sb.WriteString("Reasons:\n")
			for _, r := range v.Reasons {
				fmt.Fprintf(&sb, "• %s\n", r)
			}
		}
	case "debug":
		if v.HasFunding {
			fmt.Fprintf(&sb, "\nFunding raw: %+.6f (%.4f%%)\n", v.Funding, v.Funding*100)
		}
		fmt.Fprintf(&sb, "Confidence raw: %d/5\n", v.Confidence)
		fmt.Fprintf(&sb, "Evaluated: %s\n", v.At.UTC().Format(time.RFC3339))
	}
	return sb.String()
}

// normalizeSymbol accepts both BTC and BTCUSDT.
func normalizeSymbol(s string) string {
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}

func displaySymbol(symbol string) string {
	if s := strings.TrimSuffix(symbol, "USDT"); s != "" {
		return s
	}
	return symbol
}

// qualitativeFunding describes who pays whom instead of quoting the rate.
func qualitativeFunding(f float64) string {
	switch {
	case f > 0.0002:
		return "longs pay shorts"
	case f < -0.0002:
		return "shorts pay longs"
	default:
		return "near neutral"
	}
}
