package meteora

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solroute/solroute/internal/clock"
)

func TestQuotePriceAndFee(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	provider := New(Options{Clock: clk, Rand: func() float64 { return 0.5 }})

	type outcome struct {
		price decimal.Decimal
		fee   decimal.Decimal
		out   decimal.Decimal
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		quote, err := provider.Quote(context.Background(), "SOL", decimal.NewFromInt(10))
		done <- outcome{price: quote.Price, fee: quote.Fee, out: quote.AmountOut, err: err}
	}()
	clk.BlockUntil(1)
	clk.Advance(400 * time.Millisecond)

	res := <-done
	if res.err != nil {
		t.Fatalf("quote: %v", res.err)
	}
	if !res.price.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected mid-window price 150, got %s", res.price)
	}
	if !res.fee.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("expected fee 0.002, got %s", res.fee)
	}
	if !res.out.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected output 1500, got %s", res.out)
	}
}

func TestQuoteVarianceWiderThanRaydium(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	provider := New(Options{Clock: clk, Rand: func() float64 { return 1 }})

	done := make(chan decimal.Decimal, 1)
	go func() {
		quote, err := provider.Quote(context.Background(), "SOL", decimal.NewFromInt(1))
		if err != nil {
			t.Errorf("quote: %v", err)
		}
		done <- quote.Price
	}()
	clk.BlockUntil(1)
	clk.Advance(400 * time.Millisecond)

	// rand=1 tops out at +2%.
	if price := <-done; !price.Equal(decimal.NewFromInt(153)) {
		t.Fatalf("expected 153 at the top of the window, got %s", price)
	}
}
