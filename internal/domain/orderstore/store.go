// Package orderstore defines persistence contracts for order lifecycle state.
package orderstore

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/internal/schema"
)

// Update captures a state transition for an existing order. Nil or empty
// fields leave the stored value untouched.
type Update struct {
	State  schema.OrderState
	Venue  string
	Price  *decimal.Decimal
	TxHash string
	Error  string
}

// Query scopes order lookups.
type Query struct {
	States []schema.OrderState
	Limit  int
}

// Store defines the contract for order persistence operations.
type Store interface {
	CreateOrder(ctx context.Context, order schema.Order) error
	UpdateOrder(ctx context.Context, id string, update Update) error
	GetOrder(ctx context.Context, id string) (schema.Order, error)
	ListOrders(ctx context.Context, query Query) ([]schema.Order, error)
}
