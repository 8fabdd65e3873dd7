// Package worker runs the bounded pool that drains the job queue and drives
// each claimed order through routing, building, submission, and settlement.
package worker

import (
	"context"
	"errors"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/bus/eventbus"
	"github.com/solroute/solroute/internal/clock"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/executor"
	"github.com/solroute/solroute/internal/observability"
	"github.com/solroute/solroute/internal/queue"
	"github.com/solroute/solroute/internal/router"
	"github.com/solroute/solroute/internal/schema"
	"github.com/solroute/solroute/internal/statemachine"
)

// Config tunes the worker pool.
type Config struct {
	// Count bounds the number of orders processed concurrently.
	Count int
	// BuildPause is the transaction construction time simulated between
	// BUILDING and SUBMITTED.
	BuildPause time.Duration
	Clock      clock.Clock
}

func (c Config) normalize() Config {
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.BuildPause <= 0 {
		c.BuildPause = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	return c
}

// Pool drains the queue with a fixed number of workers and reaps jobs whose
// retries are exhausted.
type Pool struct {
	cfg Config

	queue queue.Queue
	store orderstore.Store
	route *router.Router
	exec  *executor.Executor
	bus   eventbus.Bus

	ordersCounter   metric.Int64Counter
	attemptDuration metric.Float64Histogram
}

// New constructs a worker pool over the supplied pipeline dependencies.
func New(cfg Config, q queue.Queue, store orderstore.Store, route *router.Router, exec *executor.Executor, bus eventbus.Bus) *Pool {
	p := new(Pool)
	p.cfg = cfg.normalize()
	p.queue = q
	p.store = store
	p.route = route
	p.exec = exec
	p.bus = bus

	meter := otel.Meter("worker")
	p.ordersCounter, _ = meter.Int64Counter("worker.orders.processed",
		metric.WithDescription("Order processing attempts by outcome"),
		metric.WithUnit("{order}"))
	p.attemptDuration, _ = meter.Float64Histogram("worker.attempt.duration",
		metric.WithDescription("Latency of order processing attempts"),
		metric.WithUnit("ms"))

	return p
}

// Run blocks until ctx is cancelled or the queue closes, processing jobs with
// Count workers. In-flight attempts finish before Run returns.
func (p *Pool) Run(ctx context.Context) {
	workers := concpool.New().WithMaxGoroutines(p.cfg.Count + 1)
	for i := 0; i < p.cfg.Count; i++ {
		workers.Go(func() {
			p.loop(ctx)
		})
	}
	workers.Go(func() {
		p.reap(ctx)
	})
	workers.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		lease, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && errs.CodeOf(err) != errs.CodeUnavailable {
				observability.Log().Error("worker: dequeue failed", observability.F("error", err.Error()))
			}
			return
		}
		p.process(ctx, lease)
	}
}

// process runs one attempt for a claimed job. Every attempt walks the full
// lifecycle from PENDING; a retried order is announced at ROUTING again so
// subscribers watch the new attempt from the top.
func (p *Pool) process(ctx context.Context, lease *queue.Lease) {
	start := p.cfg.Clock.Now()
	result := "confirmed"
	defer func() {
		if p.attemptDuration != nil {
			p.attemptDuration.Record(ctx, float64(p.cfg.Clock.Now().Sub(start).Milliseconds()),
				metric.WithAttributes(attribute.String("result", result)))
		}
		if p.ordersCounter != nil {
			p.ordersCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		}
	}()

	state := schema.StatePending

	state, err := p.transition(ctx, lease, state, statemachine.TriggerClaim, orderstore.Update{})
	if err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	quote, err := p.route.SelectBestQuote(ctx, lease.Token, lease.Amount)
	if err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	state, err = p.transition(ctx, lease, state, statemachine.TriggerQuoteSelected, orderstore.Update{
		Venue: quote.Venue,
		Price: &quote.Price,
	})
	if err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	if err := p.cfg.Clock.Sleep(ctx, p.cfg.BuildPause); err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	state, err = p.transition(ctx, lease, state, statemachine.TriggerBuilt, orderstore.Update{
		Venue: quote.Venue,
		Price: &quote.Price,
	})
	if err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	receipt, err := p.exec.Submit(ctx, quote.Venue, lease.OrderID)
	if err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	_, err = p.transition(ctx, lease, state, statemachine.TriggerReceipt, orderstore.Update{
		Venue:  quote.Venue,
		Price:  &quote.Price,
		TxHash: receipt.TxHash,
	})
	if err != nil {
		result = "failed"
		p.fail(ctx, lease, state, err)
		return
	}

	if err := p.queue.Ack(lease); err != nil {
		observability.Log().Warn("worker: ack failed",
			observability.F("order_id", lease.OrderID),
			observability.F("error", err.Error()))
	}
}

// transition advances the attempt-local state machine, persists the new
// state, and announces it to subscribers. Persistence and publish failures
// are logged but do not abort the attempt; the terminal write is retried by
// the reaper for failed orders and verified on Ack for confirmed ones.
func (p *Pool) transition(ctx context.Context, lease *queue.Lease, from schema.OrderState, trigger statemachine.Trigger, update orderstore.Update) (schema.OrderState, error) {
	next, err := statemachine.Next(from, trigger)
	if err != nil {
		return from, err
	}
	update.State = next
	p.record(ctx, lease.OrderID, update)
	p.announce(ctx, &schema.TransitionEvent{
		OrderID:    lease.OrderID,
		State:      next,
		Venue:      update.Venue,
		Price:      update.Price,
		TxHash:     update.TxHash,
		OccurredAt: p.cfg.Clock.Now(),
	})
	return next, nil
}

// fail marks the attempt FAILED, announces it, and hands the job back to the
// queue for retry or exhaustion.
func (p *Pool) fail(ctx context.Context, lease *queue.Lease, from schema.OrderState, cause error) {
	message := errorText(cause)
	observability.Log().Warn("worker: attempt failed",
		observability.F("order_id", lease.OrderID),
		observability.F("attempt", lease.Attempt),
		observability.F("error", cause.Error()))

	if state, err := statemachine.Next(from, statemachine.TriggerFault); err == nil {
		p.record(ctx, lease.OrderID, orderstore.Update{State: state, Error: message})
		p.announce(ctx, &schema.TransitionEvent{
			OrderID:    lease.OrderID,
			State:      state,
			Error:      message,
			OccurredAt: p.cfg.Clock.Now(),
		})
	}

	if err := p.queue.Nack(lease, cause); err != nil {
		observability.Log().Warn("worker: nack failed",
			observability.F("order_id", lease.OrderID),
			observability.F("error", err.Error()))
	}
}

// reap consumes jobs whose retries are exhausted and pins their stored state
// to FAILED. The final attempt already announced FAILED to subscribers.
func (p *Pool) reap(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case failed, ok := <-p.queue.Failed():
			if !ok {
				return
			}
			update := orderstore.Update{State: schema.StateFailed, Error: errorText(failed.Err)}
			if err := p.store.UpdateOrder(ctx, failed.OrderID, update); err != nil {
				observability.Log().Error("worker: terminal update failed",
					observability.F("order_id", failed.OrderID),
					observability.F("error", err.Error()))
			}
			observability.Log().Info("worker: order exhausted retries",
				observability.F("order_id", failed.OrderID),
				observability.F("attempts", failed.Attempts))
		}
	}
}

func (p *Pool) record(ctx context.Context, orderID string, update orderstore.Update) {
	if err := p.store.UpdateOrder(ctx, orderID, update); err != nil {
		observability.Log().Warn("worker: persist transition failed",
			observability.F("order_id", orderID),
			observability.F("state", string(update.State)),
			observability.F("error", err.Error()))
	}
}

func (p *Pool) announce(ctx context.Context, evt *schema.TransitionEvent) {
	if err := p.bus.Publish(ctx, evt); err != nil {
		observability.Log().Warn("worker: publish transition failed",
			observability.F("order_id", evt.OrderID),
			observability.F("state", string(evt.State)),
			observability.F("error", err.Error()))
	}
}

// errorText extracts the operator-facing message for wire frames and the
// stored last_error column.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	var e *errs.E
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Code)
	}
	return err.Error()
}
