// Package script provides a venue adapter whose pricing model is a
// JavaScript expression evaluated on an embedded runtime. It exists for
// operators who want to shape a venue's quote curve from configuration
// without recompiling.
package script

import (
	"context"
	"sync"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/schema"
)

// Provider evaluates a configured quote(token, amount) JavaScript function.
// Goja runtimes are not goroutine-safe, so calls are serialized.
type Provider struct {
	name string

	mu sync.Mutex
	rt *goja.Runtime
	fn goja.Callable
}

// New compiles the source and resolves its quote function. The function must
// return an object with numeric price and fee properties.
func New(name, source string) (*Provider, error) {
	if name == "" {
		return nil, errs.New("script/new", errs.CodeInvalid, errs.WithMessage("provider name required"))
	}
	rt := goja.New()
	if _, err := rt.RunString(source); err != nil {
		return nil, errs.New("script/new", errs.CodeInvalid,
			errs.WithMessage("evaluate pricing script"), errs.WithCause(err))
	}
	fn, ok := goja.AssertFunction(rt.Get("quote"))
	if !ok {
		return nil, errs.New("script/new", errs.CodeInvalid,
			errs.WithMessage("script must define quote(token, amount)"))
	}
	p := new(Provider)
	p.name = name
	p.rt = rt
	p.fn = fn
	return p, nil
}

// Name returns the configured venue identifier.
func (p *Provider) Name() string { return p.name }

// Quote invokes the script and converts its result into a schema.Quote.
func (p *Provider) Quote(ctx context.Context, token string, amount decimal.Decimal) (schema.Quote, error) {
	if err := ctx.Err(); err != nil {
		return schema.Quote{}, errs.New("script/quote", errs.CodeNetwork,
			errs.WithVenue(p.name), errs.WithCause(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	value, err := p.fn(goja.Undefined(), p.rt.ToValue(token), p.rt.ToValue(amount.InexactFloat64()))
	if err != nil {
		return schema.Quote{}, errs.New("script/quote", errs.CodeVenue,
			errs.WithVenue(p.name), errs.WithMessage("pricing script threw"), errs.WithCause(err))
	}

	result, ok := value.Export().(map[string]any)
	if !ok {
		return schema.Quote{}, errs.New("script/quote", errs.CodeVenue,
			errs.WithVenue(p.name), errs.WithMessage("script must return an object"))
	}
	price, ok := numeric(result["price"])
	if !ok || price <= 0 {
		return schema.Quote{}, errs.New("script/quote", errs.CodeVenue,
			errs.WithVenue(p.name), errs.WithMessage("script returned no positive price"))
	}
	fee, ok := numeric(result["fee"])
	if !ok || fee < 0 {
		return schema.Quote{}, errs.New("script/quote", errs.CodeVenue,
			errs.WithVenue(p.name), errs.WithMessage("script returned no valid fee"))
	}

	priceDec := decimal.NewFromFloat(price).Round(2)
	return schema.Quote{
		Venue:     p.name,
		Price:     priceDec,
		Fee:       decimal.NewFromFloat(fee),
		AmountOut: amount.Mul(priceDec),
	}, nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}
