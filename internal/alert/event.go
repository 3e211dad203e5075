// Package alert carries risk alerts from the evaluation loop to chat
// recipients through a bounded, deduplicated outbox.
package alert

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpwatch/perpwatch/internal/risk"
)

// Kind classifies an alert.
type Kind string

const (
	KindHard       Kind = "HARD"
	KindBuildup    Kind = "BUILDUP"
	KindDivergence Kind = "DIVERGENCE"

	// KindDiag is an informational data-flow ping, not a risk alert.
	KindDiag Kind = "DIAG"
	// KindSystem is a pipeline notification (regime shifts, loop stalls).
	KindSystem Kind = "SYSTEM"
)

// Event is one outgoing alert, immutable once enqueued.
type Event struct {
	ID         string
	Symbol     string
	Kind       Kind
	Risk       int
	Direction  risk.Direction
	Confidence int
	ConfLevel  string
	Driver     risk.Driver
	Price      decimal.Decimal
	HasPrice   bool
	Text       string
	At         time.Time
}

// EventID builds the canonical deterministic id: symbol:unixts:kind, with a
// :seq suffix when one tick emits several events of the same kind.
func EventID(symbol string, at time.Time, kind Kind, seq int) string {
	if seq > 0 {
		return fmt.Sprintf("%s:%d:%s:%d", symbol, at.Unix(), kind, seq)
	}
	return fmt.Sprintf("%s:%d:%s", symbol, at.Unix(), kind)
}
