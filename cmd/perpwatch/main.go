package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpwatch/perpwatch/internal/alert"
	"github.com/perpwatch/perpwatch/internal/bot"
	"github.com/perpwatch/perpwatch/internal/config"
	"github.com/perpwatch/perpwatch/internal/engine"
	"github.com/perpwatch/perpwatch/internal/health"
	"github.com/perpwatch/perpwatch/internal/journal"
	"github.com/perpwatch/perpwatch/internal/market"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration failed")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Strs("symbols", cfg.Symbols).
		Dur("interval", cfg.Interval).
		Dur("window", cfg.Window).
		Msg("PERPWATCH - perp market risk monitor")

	jrnl, err := journal.Open(cfg.JournalDSN)
	if err != nil {
		log.Warn().Err(err).Msg("Journal unavailable, continuing without persistence")
		jrnl = &journal.Journal{}
	}

	recipients := alert.NewRecipients()
	history := alert.NewHistory(cfg.AlertWindow)

	tg, err := bot.New(cfg, recipients)
	if err != nil {
		log.Fatal().Err(err).Msg("Telegram bot failed to start")
	}
	log.Info().Msg("✅ Telegram bot ready")

	outbox := alert.NewOutbox(alert.Config{
		Capacity:     cfg.OutboxCapacity,
		SendDelay:    cfg.SendDelay,
		RetryLimit:   cfg.SendRetryLimit,
		BackoffCap:   cfg.SendBackoffCap,
		FlushTimeout: cfg.ShutdownFlush,
	}, tg.Sender(), recipients, history)

	book := market.NewBook(cfg.Symbols, cfg.Window, cfg.OIFreshTTL)
	eng := engine.New(cfg, book, outbox, history, jrnl)
	tg.SetEngine(eng)
	log.Info().Msg("✅ Engine initialized")

	ctx, cancel := context.WithCancel(context.Background())

	outboxDone := make(chan struct{})
	go func() {
		outbox.Run(ctx)
		close(outboxDone)
	}()

	go health.NewServer(cfg.HealthAddr).Run(ctx)
	go tg.Run(ctx)
	go eng.Run(ctx)

	log.Info().Msg("🚀 All systems running...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	// Cancel stops the engine and the bot; the outbox flushes what it holds
	// within the configured deadline before Run returns.
	cancel()
	<-outboxDone
	log.Info().Msg("👋 Goodbye!")
}
