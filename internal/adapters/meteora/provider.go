// Package meteora provides the Meteora venue quote adapter. Compared to
// Raydium it charges a lower fee but quotes with wider variance.
package meteora

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
	venueName = "Meteora"

	defaultBasePrice = 150.0
	// Quotes vary within ±2% of the base price.
	variance    = 0.04
	latencyMin  = 200 * time.Millisecond
	latencySpan = 200 * time.Millisecond
)

var feeRate = decimal.RequireFromString("0.002")

// Options configures the adapter.
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

// Provider is the Meteora quote source.
type Provider struct {
	base decimal.Decimal
	clk  clock.Clock
	rnd  func() float64
}

// New constructs a Meteora provider.
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

// Quote returns a priced proposal after simulated network latency.
func (p *Provider) Quote(ctx context.Context, token string, amount decimal.Decimal) (schema.Quote, error) {
	latency := latencyMin + time.Duration(p.rnd()*float64(latencySpan))
	if err := p.clk.Sleep(ctx, latency); err != nil {
		return schema.Quote{}, errs.New("meteora/quote", errs.CodeNetwork,
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
