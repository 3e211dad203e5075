package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpwatch/perpwatch/internal/alert"
	"github.com/perpwatch/perpwatch/internal/feed"
)

// startFeed spins up a fresh websocket reader and its ingest pump under a
// child context so the watchdog can replace the pair atomically.
func (e *Engine) startFeed(parent context.Context) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	f := feed.New(e.cfg.FuturesWSURL, e.cfg.Symbols)
	done := make(chan struct{})

	go func() {
		defer close(done)
		f.Run(ctx)
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.Events():
				_ = e.book.Ingest(ev)
			}
		}
	}()

	e.feedCancel = cancel
	e.feedDone = done
}

func (e *Engine) restartFeed(parent context.Context) {
	e.feedMu.Lock()
	cancel, done := e.feedCancel, e.feedDone
	e.feedMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if parent.Err() != nil {
		return
	}
	e.startFeed(parent)
}

// feedWatchdog restarts the websocket reader when no stream has produced an
// event for longer than the stale TTL. Staleness is measured over websocket
// streams only, so a healthy REST OI poller cannot mask a dead connection.
// It stays quiet until the first event ever arrives, so a slow venue
// handshake does not trigger a restart storm.
func (e *Engine) feedWatchdog(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FeedWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			freshest := e.book.FreshestFeedUpdate()
			if freshest.IsZero() {
				continue
			}
			age := now.Sub(freshest)
			if age <= e.cfg.FeedStaleTTL {
				continue
			}
			log.Warn().
				Str("event", "feed_restart").
				Dur("age", age).
				Msg("feed stale, restarting connection")
			e.journal.RecordSystem("feed_restart", "", fmt.Sprintf("no events for %s", age.Truncate(time.Second)))
			e.restartFeed(ctx)
		}
	}
}

// loopWatchdog warns once when the evaluation loop stops completing ticks.
// The warning re-arms after the loop recovers.
func (e *Engine) loopWatchdog(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.LoopWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			nanos := e.lastEval.Load()
			if nanos == 0 {
				continue
			}
			age := now.Sub(time.Unix(0, nanos))
			if age <= e.cfg.LoopStaleTTL {
				continue
			}
			if e.loopWarned.Swap(true) {
				continue
			}
			log.Error().
				Str("event", "system_warning").
				Dur("age", age).
				Msg("evaluation loop stalled")
			e.journal.RecordSystem("loop_stall", "", fmt.Sprintf("last tick %s ago", age.Truncate(time.Second)))
			e.enqueue(alert.Event{
				ID:     alert.EventID("SYSTEM", now, alert.KindSystem, 0),
				Symbol: "SYSTEM",
				Kind:   alert.KindSystem,
				Text:   renderLoopStall(age),
				At:     now,
			})
		}
	}
}
