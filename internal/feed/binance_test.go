package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/perpwatch/internal/market"
)

func testFeed() *Feed {
	return New("wss://fstream.binance.com/stream", []string{"BTCUSDT", "ETHUSDT"})
}

func TestStreamURL(t *testing.T) {
	f := testFeed()
	assert.Equal(t,
		"wss://fstream.binance.com/stream?streams=btcusdt@markPrice@1s/btcusdt@aggTrade/btcusdt@forceOrder/ethusdt@markPrice@1s/ethusdt@aggTrade/ethusdt@forceOrder",
		f.streamURL())
}

func TestParseMarkPrice(t *testing.T) {
	f := testFeed()
	now := time.Now()
	raw := []byte(`{"stream":"btcusdt@markPrice@1s","data":{"s":"BTCUSDT","p":"64321.50","r":"0.00012"}}`)

	ev, err := f.parseMessage(raw, now)
	require.NoError(t, err)

	tick, ok := ev.(market.MarkTick)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 0.00012, tick.FundingRate)
	assert.Equal(t, "64321.5", tick.MarkPrice.String())
	assert.Equal(t, now, tick.At)
}

func TestParseAggTradeSides(t *testing.T) {
	f := testFeed()
	now := time.Now()

	// Maker=false means the taker bought.
	buy := []byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","q":"1.5","m":false}}`)
	ev, err := f.parseMessage(buy, now)
	require.NoError(t, err)
	trade := ev.(market.TradeEvent)
	assert.Equal(t, market.SideLong, trade.Side)
	assert.Equal(t, "1.5", trade.Qty.String())

	sell := []byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","q":"2","m":true}}`)
	ev, err = f.parseMessage(sell, now)
	require.NoError(t, err)
	assert.Equal(t, market.SideShort, ev.(market.TradeEvent).Side)
}

func TestParseForceOrder(t *testing.T) {
	f := testFeed()
	now := time.Now()

	// A forced SELL is a long position being liquidated.
	raw := []byte(`{"stream":"btcusdt@forceOrder","data":{"o":{"s":"BTCUSDT","S":"SELL","q":"0.5","p":"64000","ap":"63950"}}}`)
	ev, err := f.parseMessage(raw, now)
	require.NoError(t, err)

	liq := ev.(market.LiquidationEvent)
	assert.Equal(t, market.SideLong, liq.Side)
	// Average fill price wins over the order price when present.
	assert.Equal(t, "63950", liq.Price.String())
	assert.Equal(t, "31975", liq.Notional().String())

	// Missing average price falls back to the order price.
	raw = []byte(`{"stream":"btcusdt@forceOrder","data":{"o":{"s":"BTCUSDT","S":"BUY","q":"1","p":"64000","ap":"0"}}}`)
	ev, err = f.parseMessage(raw, now)
	require.NoError(t, err)
	liq = ev.(market.LiquidationEvent)
	assert.Equal(t, market.SideShort, liq.Side)
	assert.Equal(t, "64000", liq.Price.String())
}

func TestParseIgnoresUnwatchedSymbols(t *testing.T) {
	f := testFeed()
	raw := []byte(`{"stream":"xrpusdt@aggTrade","data":{"s":"XRPUSDT","q":"1","m":false}}`)

	ev, err := f.parseMessage(raw, time.Now())
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseRejectsGarbage(t *testing.T) {
	f := testFeed()

	_, err := f.parseMessage([]byte(`not json`), time.Now())
	assert.Error(t, err)

	_, err = f.parseMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","q":"not a number","m":false}}`), time.Now())
	assert.Error(t, err)
	assert.Equal(t, uint64(0), f.ParseErrors())
}

func TestParseUnknownStreamIsNil(t *testing.T) {
	f := testFeed()
	ev, err := f.parseMessage([]byte(`{"stream":"btcusdt@kline_1m","data":{}}`), time.Now())
	require.NoError(t, err)
	assert.Nil(t, ev)
}
