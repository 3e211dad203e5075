// Package feed adapts venue streams into typed market events.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/perpwatch/perpwatch/internal/market"
)

const (
	pingInterval   = 20 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// connState is the explicit feed-reader state machine.
type connState int

const (
	stateConnecting connState = iota
	stateReading
	stateBackoff
	stateShuttingDown
)

// Feed reads the combined futures stream (mark price + funding, aggregated
// trades, forced liquidations) and emits typed events. Reconnects use
// capped exponential backoff with jitter; all sleeps are cancelable.
type Feed struct {
	baseURL string
	symbols map[string]struct{}
	streams []string

	events    chan market.Event
	parseErrs atomic.Uint64
	overflow  atomic.Uint64
}

// New builds a feed for the configured symbols.
func New(baseURL string, symbols []string) *Feed {
	f := &Feed{
		baseURL: baseURL,
		symbols: make(map[string]struct{}, len(symbols)),
		events:  make(chan market.Event, 4096),
	}
	for _, s := range symbols {
		f.symbols[s] = struct{}{}
		lower := strings.ToLower(s)
		f.streams = append(f.streams,
			lower+"@markPrice@1s",
			lower+"@aggTrade",
			lower+"@forceOrder",
		)
	}
	return f
}

// Events is the typed event stream. The channel is never closed; consumers
// stop with their own context.
func (f *Feed) Events() <-chan market.Event {
	return f.events
}

// ParseErrors reports how many frames failed to decode.
func (f *Feed) ParseErrors() uint64 { return f.parseErrs.Load() }

func (f *Feed) streamURL() string {
	return f.baseURL + "?streams=" + strings.Join(f.streams, "/")
}

// Run drives the connection state machine until the context is canceled.
// Canceling is idempotent: a second Run of a fresh Feed value is how the
// watchdog restarts the reader.
func (f *Feed) Run(ctx context.Context) {
	state := stateConnecting
	backoff := initialBackoff
	var conn *websocket.Conn

	for {
		if ctx.Err() != nil {
			state = stateShuttingDown
		}

		switch state {
		case stateConnecting:
			c, _, err := websocket.DefaultDialer.DialContext(ctx, f.streamURL(), nil)
			if err != nil {
				log.Warn().Err(err).Msg("feed dial failed")
				state = stateBackoff
				continue
			}
			conn = c
			backoff = initialBackoff
			log.Info().Int("streams", len(f.streams)).Msg("feed connected")
			state = stateReading

		case stateReading:
			err := f.readLoop(ctx, conn)
			conn.Close()
			conn = nil
			if ctx.Err() != nil {
				state = stateShuttingDown
				continue
			}
			log.Warn().Err(err).Msg("feed read failed, reconnecting")
			state = stateBackoff

		case stateBackoff:
			jitter := 0.3 + rand.Float64()
			delay := time.Duration(float64(backoff) * jitter)
			if err := sleepCtx(ctx, delay); err != nil {
				state = stateShuttingDown
				continue
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			state = stateConnecting

		case stateShuttingDown:
			if conn != nil {
				conn.Close()
			}
			log.Info().Msg("feed stopped")
			return
		}
	}
}

// readLoop pumps frames until a read error or cancellation. A side
// goroutine keeps the connection alive with periodic pings and tears the
// connection down on cancellation so the blocking read returns.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := f.parseMessage(raw, time.Now())
		if err != nil {
			f.parseErrs.Add(1)
			log.Debug().Err(err).Msg("feed frame dropped")
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case f.events <- ev:
		default:
			f.overflow.Add(1)
		}
	}
}

// Wire shapes of the combined stream.

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceMsg struct {
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	FundingRate string `json:"r"`
}

type aggTradeMsg struct {
	Symbol string `json:"s"`
	Qty    string `json:"q"`
	Maker  bool   `json:"m"`
}

type forceOrderMsg struct {
	Order struct {
		Symbol   string `json:"s"`
		Side     string `json:"S"`
		Qty      string `json:"q"`
		Price    string `json:"p"`
		AvgPrice string `json:"ap"`
	} `json:"o"`
}

// parseMessage decodes one combined-stream frame into a typed event.
// Frames for unwatched symbols return (nil, nil).
func (f *Feed) parseMessage(raw []byte, now time.Time) (market.Event, error) {
	var msg combinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("frame decode: %w", err)
	}

	switch {
	case strings.Contains(msg.Stream, "@markPrice"):
		var m markPriceMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return nil, fmt.Errorf("markPrice decode: %w", err)
		}
		if !f.watched(m.Symbol) {
			return nil, nil
		}
		funding, err := parseFloat(m.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("markPrice funding: %w", err)
		}
		price, err := decimal.NewFromString(m.MarkPrice)
		if err != nil {
			return nil, fmt.Errorf("markPrice price: %w", err)
		}
		return market.MarkTick{
			Symbol:      m.Symbol,
			FundingRate: funding,
			MarkPrice:   price,
			At:          now,
		}, nil

	case strings.Contains(msg.Stream, "@aggTrade"):
		var m aggTradeMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return nil, fmt.Errorf("aggTrade decode: %w", err)
		}
		if !f.watched(m.Symbol) {
			return nil, nil
		}
		qty, err := decimal.NewFromString(m.Qty)
		if err != nil {
			return nil, fmt.Errorf("aggTrade qty: %w", err)
		}
		// Taker bought when the maker flag is false.
		side := market.SideLong
		if m.Maker {
			side = market.SideShort
		}
		return market.TradeEvent{Symbol: m.Symbol, Qty: qty, Side: side, At: now}, nil

	case strings.Contains(msg.Stream, "@forceOrder"):
		var m forceOrderMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return nil, fmt.Errorf("forceOrder decode: %w", err)
		}
		if !f.watched(m.Order.Symbol) {
			return nil, nil
		}
		qty, err := decimal.NewFromString(m.Order.Qty)
		if err != nil {
			return nil, fmt.Errorf("forceOrder qty: %w", err)
		}
		priceStr := m.Order.AvgPrice
		if priceStr == "" || priceStr == "0" {
			priceStr = m.Order.Price
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("forceOrder price: %w", err)
		}
		// A forced SELL closes longs; a forced BUY closes shorts.
		side := market.SideShort
		if m.Order.Side == "SELL" {
			side = market.SideLong
		}
		return market.LiquidationEvent{
			Symbol: m.Order.Symbol,
			Qty:    qty,
			Price:  price,
			Side:   side,
			At:     now,
		}, nil
	}

	return nil, nil
}

func (f *Feed) watched(symbol string) bool {
	_, ok := f.symbols[strings.ToUpper(symbol)]
	return ok
}

func parseFloat(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	v, _ := d.Float64()
	return v, nil
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
