// Package schema defines the canonical order, quote, and event types shared
// across the pipeline.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState identifies a stage in the order lifecycle.
type OrderState string

const (
	// StatePending marks an order accepted at intake but not yet claimed.
	StatePending OrderState = "PENDING"
	// StateRouting marks an order whose quotes are being discovered.
	StateRouting OrderState = "ROUTING"
	// StateBuilding marks an order whose transaction is being constructed.
	StateBuilding OrderState = "BUILDING"
	// StateSubmitted marks an order sent to the chosen venue.
	StateSubmitted OrderState = "SUBMITTED"
	// StateConfirmed marks a settled order. Terminal.
	StateConfirmed OrderState = "CONFIRMED"
	// StateFailed marks an order that could not be completed. Terminal.
	StateFailed OrderState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Valid reports whether the state is one of the known lifecycle states.
func (s OrderState) Valid() bool {
	switch s {
	case StatePending, StateRouting, StateBuilding, StateSubmitted, StateConfirmed, StateFailed:
		return true
	}
	return false
}

// Side identifies the direction of a trade.
type Side string

const (
	// SideBuy buys the token with the quote asset.
	SideBuy Side = "buy"
	// SideSell sells the token for the quote asset.
	SideSell Side = "sell"
)

// Valid reports whether the side is recognised.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order is the persisted snapshot of a trade request tracked through the
// pipeline. Venue, Price, TxHash and Error stay unset until the transition
// that assigns them; Venue and Price are written once at ROUTING->BUILDING,
// TxHash once at SUBMITTED->CONFIRMED.
type Order struct {
	ID        string
	Token     string
	Amount    decimal.Decimal
	Side      Side
	State     OrderState
	Venue     string
	Price     *decimal.Decimal
	TxHash    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Quote is an immutable priced execution proposal from one venue for a given
// input amount.
type Quote struct {
	Venue     string
	Price     decimal.Decimal
	Fee       decimal.Decimal
	AmountOut decimal.Decimal
}

// Receipt records the settlement of a submitted order.
type Receipt struct {
	TxHash     string
	ExecutedAt time.Time
}
