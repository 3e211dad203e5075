package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the exposure side of a trade or liquidation.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Event is a typed market event tagged by symbol.
type Event interface {
	EventSymbol() string
	EventTime() time.Time
}

// MarkTick carries the latest funding rate and mark price for a symbol.
type MarkTick struct {
	Symbol      string
	FundingRate float64
	MarkPrice   decimal.Decimal
	At          time.Time
}

func (e MarkTick) EventSymbol() string  { return e.Symbol }
func (e MarkTick) EventTime() time.Time { return e.At }

// TradeEvent is one aggregated taker trade. Side is long when the taker
// bought (maker flag false on the wire), short otherwise.
type TradeEvent struct {
	Symbol string
	Qty    decimal.Decimal
	Side   Side
	At     time.Time
}

func (e TradeEvent) EventSymbol() string  { return e.Symbol }
func (e TradeEvent) EventTime() time.Time { return e.At }

// LiquidationEvent is a forced position close. A forced sell closes longs,
// a forced buy closes shorts.
type LiquidationEvent struct {
	Symbol string
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Side   Side
	At     time.Time
}

func (e LiquidationEvent) EventSymbol() string  { return e.Symbol }
func (e LiquidationEvent) EventTime() time.Time { return e.At }

// Notional is qty x price in quote currency.
func (e LiquidationEvent) Notional() decimal.Decimal {
	return e.Qty.Mul(e.Price)
}

// OISample is one open-interest observation from the history endpoint.
type OISample struct {
	Symbol string
	Value  float64
	At     time.Time // source timestamp, not ingest time
}

func (e OISample) EventSymbol() string  { return e.Symbol }
func (e OISample) EventTime() time.Time { return e.At }

// OIPoint is an open-interest observation inside a symbol window.
type OIPoint struct {
	At    time.Time
	Value float64
}
