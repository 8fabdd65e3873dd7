package orderstore

import (
	"context"
	"sort"
	"sync"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/clock"
	"github.com/solroute/solroute/internal/schema"
)

// MemoryStore keeps orders in process memory. It backs deployments that run
// without a database and doubles as the test double for the pipeline.
type MemoryStore struct {
	clk clock.Clock

	mu     sync.RWMutex
	orders map[string]schema.Order
}

// NewMemoryStore constructs an empty in-memory store. A nil clock falls back
// to the system clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System{}
	}
	store := new(MemoryStore)
	store.clk = clk
	store.orders = make(map[string]schema.Order)
	return store
}

// CreateOrder inserts a new order snapshot.
func (s *MemoryStore) CreateOrder(ctx context.Context, order schema.Order) error {
	if order.ID == "" {
		return errs.New("orderstore/create", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	now := s.clk.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return errs.New("orderstore/create", errs.CodeConflict,
			errs.WithMessage("order "+order.ID+" already exists"))
	}
	s.orders[order.ID] = order
	return nil
}

// UpdateOrder applies a transition to a stored order.
func (s *MemoryStore) UpdateOrder(ctx context.Context, id string, update Update) error {
	if id == "" {
		return errs.New("orderstore/update", errs.CodeInvalid, errs.WithMessage("order id required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return errs.New("orderstore/update", errs.CodeNotFound,
			errs.WithMessage("order "+id+" not found"))
	}
	if update.State != "" {
		order.State = update.State
	}
	if update.Venue != "" {
		order.Venue = update.Venue
	}
	if update.Price != nil {
		price := *update.Price
		order.Price = &price
	}
	if update.TxHash != "" {
		order.TxHash = update.TxHash
	}
	if update.Error != "" {
		order.Error = update.Error
	}
	order.UpdatedAt = s.clk.Now()
	s.orders[id] = order
	return nil
}

// GetOrder returns the stored snapshot for the given id.
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return schema.Order{}, errs.New("orderstore/get", errs.CodeNotFound,
			errs.WithMessage("order "+id+" not found"))
	}
	return order, nil
}

// ListOrders returns stored orders matching the query, newest first.
func (s *MemoryStore) ListOrders(ctx context.Context, query Query) ([]schema.Order, error) {
	wanted := make(map[schema.OrderState]struct{}, len(query.States))
	for _, state := range query.States {
		wanted[state] = struct{}{}
	}

	s.mu.RLock()
	orders := make([]schema.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if len(wanted) > 0 {
			if _, ok := wanted[order.State]; !ok {
				continue
			}
		}
		orders = append(orders, order)
	}
	s.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if query.Limit > 0 && len(orders) > query.Limit {
		orders = orders[:query.Limit]
	}
	return orders, nil
}
