package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New("router/select", CodeNoQuote,
		WithVenue("Raydium"),
		WithAttempt(2),
		WithMessage("all providers failed"),
		WithCause(cause))

	got := err.Error()
	want := `stage=router/select code=no_quote_available venue=Raydium attempt=2 message="all providers failed" cause="dial tcp: connection refused"`
	if got != want {
		t.Fatalf("error string mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestNilError(t *testing.T) {
	var e *E
	if e.Error() != "<nil>" {
		t.Fatalf("expected <nil>, got %q", e.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New("executor/submit", CodeSettlement, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New("queue/enqueue", CodeConflict))
	if CodeOf(err) != CodeConflict {
		t.Fatalf("expected conflict, got %s", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeUnavailable {
		t.Fatalf("expected plain errors to classify as unavailable")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		code Code
		want bool
	}{
		{CodeNoQuote, true},
		{CodeSettlement, true},
		{CodeVenue, true},
		{CodeNetwork, true},
		{CodeUnavailable, true},
		{CodeInvalid, false},
		{CodeRetryExhausted, false},
		{CodeNotFound, false},
		{CodeConflict, false},
	}
	for _, tc := range cases {
		err := New("worker/process", tc.code)
		if got := Retryable(err); got != tc.want {
			t.Errorf("code %s: Retryable = %v, want %v", tc.code, got, tc.want)
		}
	}
	if !Retryable(errors.New("plain")) {
		t.Error("plain errors should be retryable")
	}
}
