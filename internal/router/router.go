// Package router discovers the best execution quote across registered venue
// providers.
package router

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/observability"
	"github.com/solroute/solroute/internal/schema"
)

// QuoteProvider is the capability interface implemented by venue adapters.
type QuoteProvider interface {
	Name() string
	Quote(ctx context.Context, token string, amount decimal.Decimal) (schema.Quote, error)
}

// Config tunes quote discovery.
type Config struct {
	// QuoteTimeout bounds every provider call of a single selection round.
	QuoteTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 2 * time.Second
	}
	return c
}

// Router queries all registered providers concurrently and picks the quote
// maximising output amount. Providers are consulted in registration order,
// which also breaks full ties deterministically.
type Router struct {
	cfg       Config
	providers []QuoteProvider
}

// New constructs a router over the given providers.
func New(cfg Config, providers ...QuoteProvider) *Router {
	r := new(Router)
	r.cfg = cfg.normalize()
	r.providers = append(r.providers, providers...)
	return r
}

// Register appends a provider to the registry.
func (r *Router) Register(provider QuoteProvider) {
	if provider == nil {
		return
	}
	r.providers = append(r.providers, provider)
}

// Providers returns the registered providers in registration order.
func (r *Router) Providers() []QuoteProvider {
	return append([]QuoteProvider(nil), r.providers...)
}

type quoteResult struct {
	quote schema.Quote
	err   error
}

// SelectBestQuote invokes every provider under one bounded timeout, waits for
// all of them to settle, and returns the quote with the highest output
// amount. Ties break by lowest fee, then registration order. It fails with
// no_quote_available when zero providers succeed. Retries are the job
// queue's responsibility, not the router's.
func (r *Router) SelectBestQuote(ctx context.Context, token string, amount decimal.Decimal) (schema.Quote, error) {
	if len(r.providers) == 0 {
		return schema.Quote{}, errs.New("router/select", errs.CodeNoQuote,
			errs.WithMessage("no providers registered"))
	}
	if amount.Sign() <= 0 {
		return schema.Quote{}, errs.New("router/select", errs.CodeInvalid,
			errs.WithMessage("amount must be positive"))
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QuoteTimeout)
	defer cancel()

	results := make([]quoteResult, len(r.providers))
	fanout := concpool.New().WithMaxGoroutines(len(r.providers))
	for idx, provider := range r.providers {
		i := idx
		prov := provider
		fanout.Go(func() {
			quote, err := prov.Quote(ctx, token, amount)
			results[i] = quoteResult{quote: quote, err: err}
		})
	}
	fanout.Wait()

	best := -1
	for i, res := range results {
		if res.err != nil {
			observability.Log().Debug("provider quote failed",
				observability.F("provider", r.providers[i].Name()),
				observability.F("error", res.err))
			continue
		}
		if best < 0 || better(res.quote, results[best].quote) {
			best = i
		}
	}
	if best < 0 {
		return schema.Quote{}, errs.New("router/select", errs.CodeNoQuote,
			errs.WithMessage("all providers failed or timed out"))
	}
	return results[best].quote, nil
}

// better reports whether a strictly beats b: higher output amount first, then
// lower fee. Equal quotes keep the earlier registration.
func better(a, b schema.Quote) bool {
	switch a.AmountOut.Cmp(b.AmountOut) {
	case 1:
		return true
	case -1:
		return false
	}
	return a.Fee.Cmp(b.Fee) < 0
}
