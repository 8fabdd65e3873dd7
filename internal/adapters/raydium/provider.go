// Package raydium provides the Raydium venue quote adapter. Pricing is a
// simulation: a base price with bounded variance behind realistic latency.
package raydium

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/clock"
	"github.com/solroute/solroute/internal/schema"
)

const (
	venueName = "Raydium"

	defaultBasePrice = 150.0
	// Quotes vary within ±1% of the base price.
	variance    = 0.02
	latencyMin  = 200 * time.Millisecond
	latencySpan = 200 * time.Millisecond
)

var feeRate = decimal.RequireFromString("0.003")

// Options configures the adapter. Zero values fall back to production
// defaults; tests inject a virtual clock and a fixed random source.
type Options struct {
	BasePrice float64
	Clock     clock.Clock
	Rand      func() float64
}

func (o Options) normalize() Options {
	if o.BasePrice <= 0 {
		o.BasePrice = defaultBasePrice
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// Provider is the Raydium quote source.
type Provider struct {
	base decimal.Decimal
	clk  clock.Clock
	rnd  func() float64
}

// New constructs a Raydium provider.
func New(opts Options) *Provider {
	opts = opts.normalize()
	p := new(Provider)
	p.base = decimal.NewFromFloat(opts.BasePrice)
	p.clk = opts.Clock
	p.rnd = opts.Rand
	return p
}

// Name returns the venue identifier.
func (p *Provider) Name() string { return venueName }

// Quote returns a priced proposal after simulated network latency. The price
// lands within ±1% of the base, rounded to two decimals.
func (p *Provider) Quote(ctx context.Context, token string, amount decimal.Decimal) (schema.Quote, error) {
	latency := latencyMin + time.Duration(p.rnd()*float64(latencySpan))
	if err := p.clk.Sleep(ctx, latency); err != nil {
		return schema.Quote{}, errs.New("raydium/quote", errs.CodeNetwork,
			errs.WithVenue(venueName), errs.WithCause(err))
	}

	multiplier := decimal.NewFromFloat(1 - variance/2 + p.rnd()*variance)
	price := p.base.Mul(multiplier).Round(2)
	return schema.Quote{
		Venue:     venueName,
		Price:     price,
		Fee:       feeRate,
		AmountOut: amount.Mul(price),
	}, nil
}
