// Package adapters builds venue quote providers from configuration.
package adapters

import (
	"strings"

	"github.com/solroute/solroute/config"
	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/adapters/meteora"
	"github.com/solroute/solroute/internal/adapters/raydium"
	"github.com/solroute/solroute/internal/adapters/script"
	"github.com/solroute/solroute/internal/clock"
	"github.com/solroute/solroute/internal/router"
)

// Build instantiates one provider per configuration entry, preserving order.
// Registration order matters: the router breaks full quote ties by it.
func Build(specs []config.ProviderSettings, clk clock.Clock) ([]router.QuoteProvider, error) {
	providers := make([]router.QuoteProvider, 0, len(specs))
	for _, spec := range specs {
		provider, err := build(spec, clk)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, nil
}

func build(spec config.ProviderSettings, clk clock.Clock) (router.QuoteProvider, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case "raydium":
		return raydium.New(raydium.Options{BasePrice: spec.BasePrice, Clock: clk}), nil
	case "meteora":
		return meteora.New(meteora.Options{BasePrice: spec.BasePrice, Clock: clk}), nil
	case "script":
		return script.New(spec.Name, spec.Script)
	}
	return nil, errs.New("adapters/build", errs.CodeInvalid,
		errs.WithMessage("unknown provider kind "+spec.Kind))
}
