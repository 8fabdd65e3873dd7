// Package executor submits orders to their chosen venue and waits for
// settlement. Settlement here is a simulation with a bounded delay; the
// rejection hook lets tests and chaos runs inject venue failures
// deterministically.
package executor

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/clock"
	"github.com/solroute/solroute/internal/schema"
)

// RejectFunc decides whether a submission is rejected by the venue. A nil
// func accepts everything.
type RejectFunc func(venue, orderID string) error

// Config tunes the executor.
type Config struct {
	// SettleDelayMin and SettleDelayMax bound the simulated confirmation
	// wait; the delay is drawn uniformly from the window.
	SettleDelayMin time.Duration
	SettleDelayMax time.Duration
	Clock          clock.Clock
	Rand           func() float64
	Reject         RejectFunc
}

func (c Config) normalize() Config {
	if c.SettleDelayMin <= 0 {
		c.SettleDelayMin = 2 * time.Second
	}
	if c.SettleDelayMax < c.SettleDelayMin {
		c.SettleDelayMax = c.SettleDelayMin
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	return c
}

// Executor performs trade submission against a venue.
type Executor struct {
	cfg Config
}

// New constructs an executor.
func New(cfg Config) *Executor {
	e := new(Executor)
	e.cfg = cfg.normalize()
	return e
}

// Submit sends the order to the venue and returns a settlement receipt after
// the confirmation delay. The result is handed back to the caller; nothing is
// persisted here.
func (e *Executor) Submit(ctx context.Context, venue, orderID string) (schema.Receipt, error) {
	window := e.cfg.SettleDelayMax - e.cfg.SettleDelayMin
	delay := e.cfg.SettleDelayMin + time.Duration(e.cfg.Rand()*float64(window))
	if err := e.cfg.Clock.Sleep(ctx, delay); err != nil {
		return schema.Receipt{}, errs.New("executor/submit", errs.CodeNetwork,
			errs.WithVenue(venue), errs.WithCause(err))
	}

	if e.cfg.Reject != nil {
		if err := e.cfg.Reject(venue, orderID); err != nil {
			return schema.Receipt{}, errs.New("executor/submit", errs.CodeSettlement,
				errs.WithVenue(venue), errs.WithMessage("venue rejected transaction"),
				errs.WithCause(err))
		}
	}

	return schema.Receipt{
		TxHash:     txHash(),
		ExecutedAt: e.cfg.Clock.Now(),
	}, nil
}

// txHash fabricates a settlement hash in the venue's format.
func txHash() string {
	return "5ol" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
