// Package postgres implements the order store on top of pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/schema"
)

// OrderStore persists order lifecycle information.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore constructs an OrderStore backed by the provided pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const (
	orderInsertSQL = `
INSERT INTO orders (
    id,
    token,
    amount,
    side,
    state,
    venue,
    price,
    tx_hash,
    last_error,
    created_at,
    updated_at
)
VALUES (
    @id,
    @token,
    @amount,
    @side,
    @state,
    @venue,
    @price,
    @tx_hash,
    @last_error,
    NOW(),
    NOW()
)
ON CONFLICT (id) DO NOTHING;
`

	orderUpdateSQL = `
UPDATE orders
SET state = COALESCE(NULLIF(@state, ''), state),
    venue = COALESCE(NULLIF(@venue, ''), venue),
    price = COALESCE(@price, price),
    tx_hash = COALESCE(NULLIF(@tx_hash, ''), tx_hash),
    last_error = COALESCE(NULLIF(@last_error, ''), last_error),
    updated_at = NOW()
WHERE id = @id;
`

	orderSelectBase = `
SELECT
    id,
    token,
    amount::text,
    side,
    state,
    venue,
    price::text,
    tx_hash,
    last_error,
    created_at,
    updated_at
FROM orders
`

	defaultOrderLimit = 50
	maxOrderLimit     = 500
)

func (s *OrderStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, errs.New("orderstore/postgres", errs.CodeUnavailable, errs.WithMessage("nil pool"))
	}
	return s.pool, nil
}

// CreateOrder inserts a new order snapshot. Inserting an id that already
// exists reports a conflict.
func (s *OrderStore) CreateOrder(ctx context.Context, order schema.Order) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errs.New("orderstore/create", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	args := pgx.NamedArgs{
		"id":         order.ID,
		"token":      order.Token,
		"amount":     order.Amount.String(),
		"side":       string(order.Side),
		"state":      string(order.State),
		"venue":      nullableString(order.Venue),
		"price":      nullableDecimal(order.Price),
		"tx_hash":    nullableString(order.TxHash),
		"last_error": nullableString(order.Error),
	}
	tag, err := pool.Exec(ctx, orderInsertSQL, args)
	if err != nil {
		return errs.New("orderstore/create", errs.CodePersistence,
			errs.WithMessage("insert order"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("orderstore/create", errs.CodeConflict,
			errs.WithMessage("order "+order.ID+" already exists"))
	}
	return nil
}

// UpdateOrder applies a transition to a stored order. Empty update fields
// preserve the stored values.
func (s *OrderStore) UpdateOrder(ctx context.Context, id string, update orderstore.Update) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return errs.New("orderstore/update", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	args := pgx.NamedArgs{
		"id":         id,
		"state":      string(update.State),
		"venue":      update.Venue,
		"price":      nullableDecimal(update.Price),
		"tx_hash":    update.TxHash,
		"last_error": update.Error,
	}
	tag, err := pool.Exec(ctx, orderUpdateSQL, args)
	if err != nil {
		return errs.New("orderstore/update", errs.CodePersistence,
			errs.WithMessage("update order"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("orderstore/update", errs.CodeNotFound,
			errs.WithMessage("order "+id+" not found"))
	}
	return nil
}

// GetOrder returns the stored snapshot for the given id.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (schema.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.Order{}, err
	}
	row := pool.QueryRow(ctx, orderSelectBase+" WHERE id = $1", id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Order{}, errs.New("orderstore/get", errs.CodeNotFound,
				errs.WithMessage("order "+id+" not found"))
		}
		return schema.Order{}, errs.New("orderstore/get", errs.CodePersistence,
			errs.WithMessage("select order"), errs.WithCause(err))
	}
	return order, nil
}

// ListOrders retrieves persisted orders matching the supplied query filters,
// newest first.
func (s *OrderStore) ListOrders(ctx context.Context, query orderstore.Query) ([]schema.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultOrderLimit, maxOrderLimit)

	builder := strings.Builder{}
	builder.WriteString(orderSelectBase)
	builder.WriteString(" WHERE 1=1")

	args := make([]any, 0, 2)
	argPos := 1

	if len(query.States) > 0 {
		states := make([]string, 0, len(query.States))
		for _, state := range query.States {
			states = append(states, string(state))
		}
		fmt.Fprintf(&builder, " AND state = ANY($%d)", argPos)
		args = append(args, states)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY created_at DESC, id LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, errs.New("orderstore/list", errs.CodePersistence,
			errs.WithMessage("list orders"), errs.WithCause(err))
	}
	defer rows.Close()

	var orders []schema.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, errs.New("orderstore/list", errs.CodePersistence,
				errs.WithMessage("scan order"), errs.WithCause(err))
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("orderstore/list", errs.CodePersistence,
			errs.WithMessage("iterate orders"), errs.WithCause(err))
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (schema.Order, error) {
	var (
		order       schema.Order
		side        string
		state       string
		amountText  string
		venueValue  sql.NullString
		priceValue  sql.NullString
		txHashValue sql.NullString
		errorValue  sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(
		&order.ID,
		&order.Token,
		&amountText,
		&side,
		&state,
		&venueValue,
		&priceValue,
		&txHashValue,
		&errorValue,
		&createdAt,
		&updatedAt,
	); err != nil {
		return schema.Order{}, err
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return schema.Order{}, fmt.Errorf("parse amount: %w", err)
	}
	order.Amount = amount
	order.Side = schema.Side(side)
	order.State = schema.OrderState(state)
	order.CreatedAt = createdAt
	order.UpdatedAt = updatedAt
	if venueValue.Valid {
		order.Venue = venueValue.String
	}
	if priceValue.Valid {
		price, err := decimal.NewFromString(priceValue.String)
		if err != nil {
			return schema.Order{}, fmt.Errorf("parse price: %w", err)
		}
		order.Price = &price
	}
	if txHashValue.Valid {
		order.TxHash = txHashValue.String
	}
	if errorValue.Valid {
		order.Error = errorValue.String
	}
	return order, nil
}

func nullableString(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func nullableDecimal(ptr *decimal.Decimal) any {
	if ptr == nil {
		return nil
	}
	return ptr.String()
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}
