package alert

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrRecipientBlocked means the chat blocked the bot; the recipient is
// removed from the active set and the item is dropped for that chat.
var ErrRecipientBlocked = errors.New("recipient blocked")

// RateLimitedError carries the transport's advisory delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Sender delivers one event to one chat. Implementations map their
// transport errors onto ErrRecipientBlocked / RateLimitedError.
type Sender interface {
	Send(ctx context.Context, chatID int64, ev Event) error
}

// Config tunes the outbox worker.
type Config struct {
	Capacity     int
	SendDelay    time.Duration
	RetryLimit   int
	BackoffCap   time.Duration
	FlushTimeout time.Duration
}

// Outbox is a bounded FIFO between the evaluation loop and the send worker.
// Enqueue never blocks: when the queue is full the new item is dropped and
// counted, preserving the oldest items.
type Outbox struct {
	cfg        Config
	sender     Sender
	recipients *Recipients
	history    *History

	ch      chan Event
	dropped atomic.Uint64

	// onDelivered fires once per event id, after the first successful send.
	onDelivered func(Event)
	// onFailed fires when an event exhausts its retries for some recipient.
	onFailed func(Event, error)
}

func NewOutbox(cfg Config, sender Sender, recipients *Recipients, history *History) *Outbox {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 2000
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 5
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 200 * time.Millisecond
	}
	return &Outbox{
		cfg:        cfg,
		sender:     sender,
		recipients: recipients,
		history:    history,
		ch:         make(chan Event, cfg.Capacity),
	}
}

// OnDelivered registers the first-delivery hook. Call before Run.
func (o *Outbox) OnDelivered(fn func(Event)) { o.onDelivered = fn }

// OnFailed registers the delivery-failure hook. Call before Run.
func (o *Outbox) OnFailed(fn func(Event, error)) { o.onFailed = fn }

// Dropped reports how many events were discarded on a full queue.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }

// Enqueue offers an event to the queue without blocking. Duplicate ids are
// silently dropped; a full queue drops the new item with a queue_drop log.
func (o *Outbox) Enqueue(ev Event) bool {
	if !o.history.MarkEnqueued(ev.ID) {
		return false
	}
	select {
	case o.ch <- ev:
		return true
	default:
		o.dropped.Add(1)
		log.Warn().
			Str("event", "queue_drop").
			Str("event_id", ev.ID).
			Str("symbol", ev.Symbol).
			Uint64("dropped_total", o.dropped.Load()).
			Msg("outbox full, alert dropped")
		return false
	}
}

// Run drains the queue until the context is canceled, then flushes the
// remaining items best-effort within the configured deadline.
func (o *Outbox) Run(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(o.cfg.SendDelay), 1)

	for {
		select {
		case <-ctx.Done():
			o.flush(limiter)
			return
		case ev := <-o.ch:
			o.process(ctx, ev, limiter)
		}
	}
}

// flush delivers already-enqueued items with a short deadline so shutdown
// does not lose alerts that were handed to the outbox.
func (o *Outbox) flush(limiter *rate.Limiter) {
	deadline := o.cfg.FlushTimeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	for {
		select {
		case ev := <-o.ch:
			o.process(ctx, ev, limiter)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// process fans one event out to every active recipient in order.
func (o *Outbox) process(ctx context.Context, ev Event, limiter *rate.Limiter) {
	for _, chatID := range o.recipients.List() {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		err := o.deliver(ctx, chatID, ev)
		switch {
		case err == nil:
			if o.history.RecordDelivered(ev) && o.onDelivered != nil {
				o.onDelivered(ev)
			}
		case errors.Is(err, ErrRecipientBlocked):
			o.recipients.Remove(chatID)
			log.Info().
				Int64("chat_id", chatID).
				Str("event_id", ev.ID).
				Msg("recipient blocked the bot, removed from active set")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			log.Error().
				Err(err).
				Str("event", "alert_fail").
				Str("event_id", ev.ID).
				Int64("chat_id", chatID).
				Msg("alert delivery failed after retries")
			if o.onFailed != nil {
				o.onFailed(ev, err)
			}
		}
	}
}

// sendState drives the per-item delivery state machine.
type sendState int

const (
	statePending sendState = iota
	stateSending
	stateRateLimited
	stateBackoff
	stateDone
	stateFailed
)

// deliver pushes one event to one chat through the retry state machine.
// Rate-limit waits honor the transport's advisory delay and do not consume
// retry attempts; transient errors back off exponentially up to the cap.
func (o *Outbox) deliver(ctx context.Context, chatID int64, ev Event) error {
	state := statePending
	attempts := 0
	var wait time.Duration
	var lastErr error

	for {
		switch state {
		case statePending:
			state = stateSending

		case stateSending:
			err := o.sender.Send(ctx, chatID, ev)
			var rl *RateLimitedError
			switch {
			case err == nil:
				state = stateDone
			case errors.Is(err, ErrRecipientBlocked):
				return err
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case errors.As(err, &rl):
				wait = rl.RetryAfter
				state = stateRateLimited
			default:
				attempts++
				lastErr = err
				if attempts >= o.cfg.RetryLimit {
					state = stateFailed
				} else {
					wait = o.backoff(attempts)
					state = stateBackoff
				}
			}

		case stateRateLimited, stateBackoff:
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			state = stateSending

		case stateDone:
			return nil

		case stateFailed:
			return lastErr
		}
	}
}

func (o *Outbox) backoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > o.cfg.BackoffCap {
		d = o.cfg.BackoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
