package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStateTerminal(t *testing.T) {
	terminals := map[OrderState]bool{
		StatePending:   false,
		StateRouting:   false,
		StateBuilding:  false,
		StateSubmitted: false,
		StateConfirmed: true,
		StateFailed:    true,
	}
	for state, want := range terminals {
		if got := state.Terminal(); got != want {
			t.Errorf("state %s: Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestSideValid(t *testing.T) {
	if !SideBuy.Valid() || !SideSell.Valid() {
		t.Fatal("expected buy and sell to be valid")
	}
	if Side("short").Valid() {
		t.Fatal("expected unknown side to be invalid")
	}
}

func TestTransitionEventWireMinimal(t *testing.T) {
	evt := TransitionEvent{
		OrderID:    "ord-1",
		State:      StateRouting,
		OccurredAt: time.Now(),
	}
	payload, err := evt.Wire()
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	want := `{"orderId":"ord-1","status":"ROUTING"}`
	if string(payload) != want {
		t.Fatalf("wire frame mismatch:\n got %s\nwant %s", payload, want)
	}
}

func TestTransitionEventWireFull(t *testing.T) {
	price := decimal.NewFromFloat(150.25)
	evt := TransitionEvent{
		OrderID: "ord-2",
		State:   StateConfirmed,
		Venue:   "Raydium",
		Price:   &price,
		TxHash:  "5olabc123xyz",
	}
	payload, err := evt.Wire()
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	want := `{"orderId":"ord-2","status":"CONFIRMED","dex":"Raydium","price":150.25,"txHash":"5olabc123xyz"}`
	if string(payload) != want {
		t.Fatalf("wire frame mismatch:\n got %s\nwant %s", payload, want)
	}
}

func TestTransitionEventWireError(t *testing.T) {
	evt := TransitionEvent{
		OrderID: "ord-3",
		State:   StateFailed,
		Venue:   "Meteora",
		Error:   "settlement rejected",
	}
	payload, err := evt.Wire()
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	want := `{"orderId":"ord-3","status":"FAILED","dex":"Meteora","error":"settlement rejected"}`
	if string(payload) != want {
		t.Fatalf("wire frame mismatch:\n got %s\nwant %s", payload, want)
	}
}
