package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/internal/bus/eventbus"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/executor"
	"github.com/solroute/solroute/internal/queue"
	"github.com/solroute/solroute/internal/router"
	"github.com/solroute/solroute/internal/schema"
)

type staticProvider struct {
	name  string
	quote schema.Quote
	err   error
}

func (p staticProvider) Name() string { return p.name }

func (p staticProvider) Quote(ctx context.Context, token string, amount decimal.Decimal) (schema.Quote, error) {
	if p.err != nil {
		return schema.Quote{}, p.err
	}
	return p.quote, nil
}

type pipeline struct {
	queue *queue.MemoryQueue
	store *orderstore.MemoryStore
	bus   *eventbus.MemoryBus
	pool  *Pool

	cancel context.CancelFunc
	done   chan struct{}
}

func startPipeline(t *testing.T, providers []router.QuoteProvider, reject executor.RejectFunc) *pipeline {
	t.Helper()

	q := queue.NewMemoryQueue(queue.Config{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		LeaseTimeout: 5 * time.Second,
	})
	store := orderstore.NewMemoryStore(nil)
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 64})
	route := router.New(router.Config{QuoteTimeout: time.Second}, providers...)
	exec := executor.New(executor.Config{
		SettleDelayMin: time.Millisecond,
		SettleDelayMax: 2 * time.Millisecond,
		Reject:         reject,
	})
	pool := New(Config{Count: 4, BuildPause: time.Millisecond}, q, store, route, exec, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	p := &pipeline{queue: q, store: store, bus: bus, pool: pool, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		q.Close()
		<-done
		bus.Close()
	})
	return p
}

func (p *pipeline) submit(t *testing.T, orderID string) <-chan *schema.TransitionEvent {
	t.Helper()
	ctx := context.Background()
	order := schema.Order{
		ID:     orderID,
		Token:  "SOL",
		Amount: decimal.NewFromInt(10),
		Side:   schema.SideBuy,
		State:  schema.StatePending,
	}
	if err := p.store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	_, events, err := p.bus.Subscribe(ctx, orderID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := p.queue.Enqueue(ctx, queue.Job{OrderID: orderID, Token: order.Token, Amount: order.Amount, Side: order.Side}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return events
}

func nextEvent(t *testing.T, events <-chan *schema.TransitionEvent) *schema.TransitionEvent {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transition event")
		return nil
	}
}

func TestPoolConfirmsOrderThroughPipeline(t *testing.T) {
	better := decimal.NewFromFloat(151.00)
	worse := decimal.NewFromFloat(149.50)
	providers := []router.QuoteProvider{
		staticProvider{name: "Raydium", quote: schema.Quote{
			Venue: "Raydium", Price: better, Fee: decimal.NewFromFloat(0.003), AmountOut: better,
		}},
		staticProvider{name: "Meteora", quote: schema.Quote{
			Venue: "Meteora", Price: worse, Fee: decimal.NewFromFloat(0.002), AmountOut: worse,
		}},
	}
	p := startPipeline(t, providers, nil)
	events := p.submit(t, "ord-1")

	evt := nextEvent(t, events)
	if evt.State != schema.StateRouting {
		t.Fatalf("expected ROUTING first, got %s", evt.State)
	}

	evt = nextEvent(t, events)
	if evt.State != schema.StateBuilding {
		t.Fatalf("expected BUILDING, got %s", evt.State)
	}
	if evt.Venue != "Raydium" {
		t.Fatalf("expected the better venue, got %q", evt.Venue)
	}
	if evt.Price == nil || !evt.Price.Equal(better) {
		t.Fatalf("unexpected price %v", evt.Price)
	}

	evt = nextEvent(t, events)
	if evt.State != schema.StateSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", evt.State)
	}

	evt = nextEvent(t, events)
	if evt.State != schema.StateConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", evt.State)
	}
	if !strings.HasPrefix(evt.TxHash, "5ol") {
		t.Fatalf("unexpected tx hash %q", evt.TxHash)
	}

	order := waitForState(t, p.store, "ord-1", schema.StateConfirmed)
	if order.Venue != "Raydium" || order.TxHash != evt.TxHash {
		t.Fatalf("stored order out of sync: %+v", order)
	}
}

func TestPoolFailsWithoutBuildingWhenNoQuote(t *testing.T) {
	providers := []router.QuoteProvider{
		staticProvider{name: "Raydium", err: errors.New("pool drained")},
		staticProvider{name: "Meteora", err: errors.New("rpc timeout")},
	}
	p := startPipeline(t, providers, nil)
	events := p.submit(t, "ord-1")

	failures := 0
	for failures < 3 {
		evt := nextEvent(t, events)
		switch evt.State {
		case schema.StateRouting:
		case schema.StateFailed:
			failures++
			if evt.Error == "" {
				t.Fatal("expected an error message on FAILED")
			}
		default:
			t.Fatalf("unexpected state %s for an order with no quotes", evt.State)
		}
	}

	order := waitForState(t, p.store, "ord-1", schema.StateFailed)
	if order.Error == "" {
		t.Fatal("expected stored error on terminal FAILED")
	}
}

func TestPoolRetriesAfterSettlementFailure(t *testing.T) {
	price := decimal.NewFromFloat(150.00)
	providers := []router.QuoteProvider{
		staticProvider{name: "Raydium", quote: schema.Quote{
			Venue: "Raydium", Price: price, Fee: decimal.NewFromFloat(0.003), AmountOut: price,
		}},
	}

	var mu sync.Mutex
	rejected := false
	reject := func(venue, orderID string) error {
		mu.Lock()
		defer mu.Unlock()
		if !rejected {
			rejected = true
			return errors.New("slippage exceeded")
		}
		return nil
	}

	p := startPipeline(t, providers, reject)
	events := p.submit(t, "ord-1")

	sawFailure := false
	for {
		evt := nextEvent(t, events)
		if evt.State == schema.StateFailed {
			sawFailure = true
			continue
		}
		if evt.State == schema.StateConfirmed {
			if !sawFailure {
				t.Fatal("expected a FAILED attempt before the confirmation")
			}
			break
		}
	}

	order := waitForState(t, p.store, "ord-1", schema.StateConfirmed)
	if !strings.HasPrefix(order.TxHash, "5ol") {
		t.Fatalf("unexpected tx hash %q", order.TxHash)
	}
}

func TestPoolProcessesOrdersConcurrently(t *testing.T) {
	price := decimal.NewFromFloat(150.00)
	providers := []router.QuoteProvider{
		staticProvider{name: "Raydium", quote: schema.Quote{
			Venue: "Raydium", Price: price, Fee: decimal.NewFromFloat(0.003), AmountOut: price,
		}},
	}
	p := startPipeline(t, providers, nil)

	ids := []string{"ord-1", "ord-2", "ord-3", "ord-4", "ord-5", "ord-6"}
	channels := make(map[string]<-chan *schema.TransitionEvent, len(ids))
	for _, id := range ids {
		channels[id] = p.submit(t, id)
	}

	for _, id := range ids {
		for {
			evt := nextEvent(t, channels[id])
			if evt.State == schema.StateFailed {
				t.Fatalf("order %s failed unexpectedly: %s", id, evt.Error)
			}
			if evt.State == schema.StateConfirmed {
				break
			}
		}
	}
}

func waitForState(t *testing.T, store *orderstore.MemoryStore, id string, want schema.OrderState) schema.Order {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		order, err := store.GetOrder(context.Background(), id)
		if err == nil && order.State == want {
			return order
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached %s", id, want)
	return schema.Order{}
}
