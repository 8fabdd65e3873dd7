package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/observability"
	"github.com/solroute/solroute/internal/schema"
)

// MemoryBus is an in-memory implementation of the transition event bus.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[string]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	nextID       uint64
	workers      int

	eventsPublishedCounter metric.Int64Counter
	subscriberGauge        metric.Int64UpDownCounter
	deliveryBlockedCounter metric.Int64Counter
	fanoutHistogram        metric.Int64Histogram
	publishDuration        metric.Float64Histogram
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// mu serializes sends against close so a publisher racing an
	// unsubscribe can never send on a closed channel.
	mu     sync.Mutex
	ch     chan *schema.TransitionEvent
	closed bool
}

// NewMemoryBus constructs a memory-backed transition event bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	bus.subscribers = make(map[string]map[SubscriptionID]*subscriber)
	bus.workers = cfg.FanoutWorkers

	meter := otel.Meter("eventbus")
	bus.eventsPublishedCounter, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of transition events published to the bus"),
		metric.WithUnit("{event}"))
	bus.subscriberGauge, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))
	bus.deliveryBlockedCounter, _ = meter.Int64Counter("eventbus.delivery.blocked",
		metric.WithDescription("Number of deliveries dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))
	bus.fanoutHistogram, _ = meter.Int64Histogram("eventbus.fanout.size",
		metric.WithDescription("Number of subscribers per fanout"),
		metric.WithUnit("{subscriber}"))
	bus.publishDuration, _ = meter.Float64Histogram("eventbus.publish.duration",
		metric.WithDescription("Latency of eventbus publish operations"),
		metric.WithUnit("ms"))

	return bus
}

// Publish fan-outs the event to all subscribers of its order id.
// Subscribers are snapshotted before any delivery work; zero subscribers is a
// successful no-op.
func (b *MemoryBus) Publish(ctx context.Context, evt *schema.TransitionEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt == nil {
		return nil
	}
	if evt.OrderID == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	if b.ctx.Err() != nil {
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}

	start := time.Now()
	result := "success"
	defer func() {
		if b.publishDuration != nil {
			b.publishDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("result", result),
				attribute.String("status", string(evt.State))))
		}
	}()

	b.mu.RLock()
	subMap := b.subscribers[evt.OrderID]
	n := len(subMap)
	subscribers := make([]*subscriber, 0, n)
	for _, sub := range subMap {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	if b.fanoutHistogram != nil {
		b.fanoutHistogram.Record(ctx, int64(n), metric.WithAttributes(
			attribute.String("status", string(evt.State))))
	}
	if n == 0 {
		result = "no_subscribers"
		return nil
	}

	if err := b.dispatch(ctx, subscribers, evt); err != nil {
		result = "dispatch_failed"
		return err
	}

	if b.eventsPublishedCounter != nil {
		b.eventsPublishedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(evt.State))))
	}
	return nil
}

// Subscribe registers for transition events of the given order and returns a
// subscription ID and receive channel. The channel closes when the caller's
// context ends, the subscription is removed, or the bus shuts down.
func (b *MemoryBus) Subscribe(ctx context.Context, orderID string) (SubscriptionID, <-chan *schema.TransitionEvent, error) {
	if orderID == "" {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if b.ctx.Err() != nil {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}
	ctx, cancel := context.WithCancel(ctx)

	sub := new(subscriber)
	sub.ctx = ctx
	sub.cancel = cancel
	sub.ch = make(chan *schema.TransitionEvent, b.cfg.BufferSize)

	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if _, ok := b.subscribers[orderID]; !ok {
		b.subscribers[orderID] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[orderID][id] = sub
	b.mu.Unlock()

	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(ctx, 1)
	}

	go b.observe(orderID, id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	for orderID, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, orderID)
			}
			b.mu.Unlock()
			if b.subscriberGauge != nil {
				b.subscriberGauge.Add(context.Background(), -1)
			}
			sub.close()
			return
		}
	}
	b.mu.Unlock()
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		for orderID, subs := range b.subscribers {
			for id, sub := range subs {
				if sub != nil {
					sub.close()
				}
				delete(subs, id)
			}
			delete(b.subscribers, orderID)
		}
		b.mu.Unlock()
	})
}

func (b *MemoryBus) observe(orderID string, id SubscriptionID, sub *subscriber) {
	<-sub.ctx.Done()
	b.mu.Lock()
	subs := b.subscribers[orderID]
	if subs != nil {
		if stored, ok := subs[id]; ok && stored == sub {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, orderID)
			}
		}
	}
	b.mu.Unlock()
	sub.close()
}

// deliver hands an event to a single subscriber. A full buffer drops the
// oldest event so slow consumers see the freshest state rather than blocking
// the publisher.
func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, evt *schema.TransitionEvent) error {
	if b.ctx.Err() != nil {
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}
	if ctx.Err() != nil {
		return fmt.Errorf("deliver context: %w", ctx.Err())
	}
	delivered, open := sub.send(evt)
	if delivered || !open {
		// A departed subscriber is not a delivery failure.
		return nil
	}

	sub.dropOldest()
	observability.Log().Warn("eventbus: subscriber buffer full; dropped oldest event",
		observability.F("order_id", evt.OrderID),
		observability.F("status", string(evt.State)))
	if b.deliveryBlockedCounter != nil {
		b.deliveryBlockedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(evt.State))))
	}

	if delivered, _ := sub.send(evt); delivered {
		return nil
	}
	return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("subscriber buffer full"))
}

// dispatch delivers the event to all snapshotted subscribers. Events are
// immutable once published so every subscriber shares the same pointer.
func (b *MemoryBus) dispatch(ctx context.Context, subs []*subscriber, evt *schema.TransitionEvent) error {
	workerLimit := b.workers
	if workerLimit <= 0 {
		workerLimit = 1
	}

	p := concpool.New().WithMaxGoroutines(workerLimit)
	errCh := make(chan error, len(subs))

	for _, subscriber := range subs {
		if subscriber == nil {
			continue
		}
		sub := subscriber
		p.Go(func() {
			if err := b.deliver(ctx, sub, evt); err != nil {
				errCh <- err
			}
		})
	}

	p.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// send offers evt without blocking. It reports whether the event was buffered
// and whether the subscription is still open.
func (s *subscriber) send(evt *schema.TransitionEvent) (delivered, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- evt:
		return true, true
	default:
		return false, true
	}
}

// dropOldest discards the oldest buffered event, if any, to make room for a
// fresher one.
func (s *subscriber) dropOldest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
