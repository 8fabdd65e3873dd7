// Package queue implements the at-least-once job queue feeding the worker
// pool: FIFO dispatch, exponential retry backoff, lease timeouts, and a
// single live job per order id.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/clock"
	"github.com/solroute/solroute/internal/schema"
)

// Job is the envelope wrapping the parameters needed to resume an order's
// processing.
type Job struct {
	OrderID string
	Token   string
	Amount  decimal.Decimal
	Side    schema.Side
}

// Lease is an exclusive claim on a job for the duration of one processing
// attempt. The claim expires after the queue's lease timeout unless acked or
// nacked first.
type Lease struct {
	Job
	Attempt     int
	MaxAttempts int

	token uint64
}

// FailedJob surfaces a job that will never be retried again.
type FailedJob struct {
	Job
	Attempts int
	Err      error
}

// Queue is the contract between intake, workers, and the retry machinery.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (*Lease, error)
	Ack(lease *Lease) error
	Nack(lease *Lease, cause error) error
	Failed() <-chan FailedJob
	Close()
}

// Config tunes the in-memory queue.
type Config struct {
	// MaxAttempts caps processing attempts per job.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: the first retry waits
	// BaseDelay, the next twice that, and so on up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// LeaseTimeout re-offers a claimed job whose worker never acked or
	// nacked, so a crashed worker cannot strand an order.
	LeaseTimeout time.Duration
	Clock        clock.Clock
}

func (c Config) normalize() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	return c
}

type recordState int

const (
	stateReady recordState = iota
	stateDelayed
	stateLeased
)

type record struct {
	job         Job
	state       recordState
	attempt     int
	dueAt       time.Time
	leaseToken  uint64
	leaseExpiry time.Time
	retry       *backoff.ExponentialBackOff
}

// MemoryQueue is the in-memory Queue implementation.
type MemoryQueue struct {
	cfg Config

	mu       sync.Mutex
	ready    []*record
	records  map[string]*record
	tokenSeq uint64
	closed   bool

	failed chan FailedJob
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMemoryQueue constructs a queue with the given retry policy.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	q := new(MemoryQueue)
	q.cfg = cfg.normalize()
	q.records = make(map[string]*record)
	q.failed = make(chan FailedJob, 64)
	q.notify = make(chan struct{}, 1)
	q.done = make(chan struct{})
	return q
}

// Enqueue accepts a new job. An order id with a job already in flight is
// rejected: the queue is what guarantees at most one active claim per order.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.OrderID == "" {
		return errs.New("queue/enqueue", errs.CodeInvalid, errs.WithMessage("order id required"))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errs.New("queue/enqueue", errs.CodeUnavailable, errs.WithMessage("queue closed"))
	}
	if _, exists := q.records[job.OrderID]; exists {
		return errs.New("queue/enqueue", errs.CodeConflict,
			errs.WithMessage("order "+job.OrderID+" already has a live job"))
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = q.cfg.BaseDelay
	retry.RandomizationFactor = 0
	retry.Multiplier = 2
	retry.MaxInterval = q.cfg.MaxDelay
	rec := &record{
		job:   job,
		state: stateReady,
		retry: retry,
	}
	q.records[job.OrderID] = rec
	q.ready = append(q.ready, rec)
	q.signal()
	return nil
}

// Dequeue blocks until a job is claimable, then returns an exclusive lease on
// it. Each claim counts as one attempt.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Lease, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, errs.New("queue/dequeue", errs.CodeUnavailable, errs.WithMessage("queue closed"))
		}
		now := q.cfg.Clock.Now()
		q.promoteLocked(now)

		if len(q.ready) > 0 {
			rec := q.ready[0]
			q.ready = q.ready[1:]
			rec.state = stateLeased
			rec.attempt++
			q.tokenSeq++
			rec.leaseToken = q.tokenSeq
			rec.leaseExpiry = now.Add(q.cfg.LeaseTimeout)
			lease := &Lease{
				Job:         rec.job,
				Attempt:     rec.attempt,
				MaxAttempts: q.cfg.MaxAttempts,
				token:       rec.leaseToken,
			}
			if len(q.ready) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return lease, nil
		}

		wake := q.nextWakeLocked(now)
		q.mu.Unlock()

		var timer <-chan time.Time
		if wake > 0 {
			timer = q.cfg.Clock.After(wake)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, errs.New("queue/dequeue", errs.CodeUnavailable, errs.WithMessage("queue closed"))
		case <-q.notify:
		case <-timer:
		}
	}
}

// Ack removes a successfully processed job permanently.
func (q *MemoryQueue) Ack(lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, err := q.claimedLocked(lease, "queue/ack")
	if err != nil {
		return err
	}
	delete(q.records, rec.job.OrderID)
	return nil
}

// Nack reports a failed attempt. Retryable causes reschedule the job with
// exponential backoff until the attempt cap; everything else, and the cap
// itself, surfaces the job on Failed.
func (q *MemoryQueue) Nack(lease *Lease, cause error) error {
	q.mu.Lock()
	rec, err := q.claimedLocked(lease, "queue/nack")
	if err != nil {
		q.mu.Unlock()
		return err
	}

	if errs.Retryable(cause) && rec.attempt < q.cfg.MaxAttempts {
		delay := rec.retry.NextBackOff()
		if delay == backoff.Stop {
			delay = q.cfg.MaxDelay
		}
		rec.state = stateDelayed
		rec.dueAt = q.cfg.Clock.Now().Add(delay)
		q.signal()
		q.mu.Unlock()
		return nil
	}

	delete(q.records, rec.job.OrderID)
	q.mu.Unlock()

	final := cause
	if errs.Retryable(cause) {
		final = errs.New("queue/retry", errs.CodeRetryExhausted,
			errs.WithAttempt(rec.attempt),
			errs.WithMessage("job exceeded max attempts"),
			errs.WithCause(cause))
	}
	select {
	case q.failed <- FailedJob{Job: rec.job, Attempts: rec.attempt, Err: final}:
	case <-q.done:
	}
	return nil
}

// Failed streams jobs that are permanently done for. The worker pool consumes
// it to drive the underlying orders terminal.
func (q *MemoryQueue) Failed() <-chan FailedJob {
	return q.failed
}

// Close shuts the queue down and wakes all blocked consumers.
func (q *MemoryQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

// claimedLocked resolves the record a lease refers to, rejecting stale
// leases whose claim already expired and moved on.
func (q *MemoryQueue) claimedLocked(lease *Lease, stage string) (*record, error) {
	if lease == nil {
		return nil, errs.New(stage, errs.CodeInvalid, errs.WithMessage("lease required"))
	}
	rec, ok := q.records[lease.OrderID]
	if !ok || rec.state != stateLeased || rec.leaseToken != lease.token {
		return nil, errs.New(stage, errs.CodeConflict,
			errs.WithMessage("lease is no longer current for order "+lease.OrderID))
	}
	return rec, nil
}

// promoteLocked moves due retries and expired leases back onto the ready
// list.
func (q *MemoryQueue) promoteLocked(now time.Time) {
	for _, rec := range q.records {
		switch rec.state {
		case stateDelayed:
			if !rec.dueAt.After(now) {
				rec.state = stateReady
				q.ready = append(q.ready, rec)
			}
		case stateLeased:
			if !rec.leaseExpiry.After(now) {
				rec.state = stateReady
				q.ready = append(q.ready, rec)
			}
		}
	}
}

// nextWakeLocked returns the wait until the next scheduled retry or lease
// expiry, or zero when nothing is scheduled.
func (q *MemoryQueue) nextWakeLocked(now time.Time) time.Duration {
	var next time.Time
	for _, rec := range q.records {
		var at time.Time
		switch rec.state {
		case stateDelayed:
			at = rec.dueAt
		case stateLeased:
			at = rec.leaseExpiry
		default:
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		return 0
	}
	wake := next.Sub(now)
	if wake <= 0 {
		wake = time.Nanosecond
	}
	return wake
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
