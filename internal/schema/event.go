package schema

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// TransitionEvent is the immutable message broadcast after each state change
// of an order. Payload fields are populated per stage: Venue and Price for
// BUILDING and SUBMITTED, TxHash for CONFIRMED, Error for FAILED.
type TransitionEvent struct {
	OrderID    string
	State      OrderState
	Venue      string
	Price      *decimal.Decimal
	TxHash     string
	Error      string
	OccurredAt time.Time
}

// wireUpdate is the JSON frame delivered on the live channel. Field names and
// optionality are part of the transport contract and must not change.
type wireUpdate struct {
	OrderID string   `json:"orderId"`
	Status  string   `json:"status"`
	Dex     string   `json:"dex,omitempty"`
	Price   *float64 `json:"price,omitempty"`
	TxHash  string   `json:"txHash,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Wire encodes the event as a live channel frame.
func (e TransitionEvent) Wire() ([]byte, error) {
	frame := wireUpdate{
		OrderID: e.OrderID,
		Status:  string(e.State),
		Dex:     e.Venue,
		Price:   nil,
		TxHash:  e.TxHash,
		Error:   e.Error,
	}
	if e.Price != nil {
		price, _ := e.Price.Float64()
		frame.Price = &price
	}
	return json.Marshal(frame)
}
