// Package live bridges the transition event bus onto per-order websocket
// streams.
package live

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/bus/eventbus"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/observability"
	"github.com/solroute/solroute/internal/schema"
)

const writeTimeout = 5 * time.Second

// Server upgrades subscriber connections and streams one order's lifecycle
// until a terminal state is delivered.
type Server struct {
	store orderstore.Store
	bus   eventbus.Bus
}

// NewServer constructs a websocket bridge over the given store and bus.
func NewServer(store orderstore.Store, bus eventbus.Bus) *Server {
	s := new(Server)
	s.store = store
	s.bus = bus
	return s
}

// HandleOrder upgrades the request and streams transition frames for orderID.
// On connect the subscriber receives the order's current state so late
// joiners never miss where the pipeline stands. The connection closes after a
// terminal frame is delivered or the client goes away.
func (s *Server) HandleOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		observability.Log().Warn("live: websocket accept failed",
			observability.F("order_id", orderID),
			observability.F("error", err.Error()))
		return
	}

	// Subscribe before reading the snapshot so a transition racing the
	// handshake is buffered rather than lost; reading the store first would
	// open a gap where a terminal event slips past and the stream hangs.
	subID, events, err := s.bus.Subscribe(r.Context(), orderID)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer s.bus.Unsubscribe(subID)

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeNotFound {
			_ = conn.Close(websocket.StatusPolicyViolation, "unknown order")
		} else {
			_ = conn.Close(websocket.StatusInternalError, "order lookup failed")
		}
		return
	}

	// CloseRead drains incoming frames so control messages are processed;
	// its context ends when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := s.write(ctx, conn, snapshotEvent(order)); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if order.State.Terminal() {
		_ = conn.Close(websocket.StatusNormalClosure, "order settled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if err := s.write(ctx, conn, evt); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if evt.State.Terminal() {
				_ = conn.Close(websocket.StatusNormalClosure, "order settled")
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, evt *schema.TransitionEvent) error {
	frame, err := evt.Wire()
	if err != nil {
		observability.Log().Error("live: encode frame failed",
			observability.F("order_id", evt.OrderID),
			observability.F("error", err.Error()))
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}

// snapshotEvent renders an order's stored state as a wire frame.
func snapshotEvent(order schema.Order) *schema.TransitionEvent {
	return &schema.TransitionEvent{
		OrderID:    order.ID,
		State:      order.State,
		Venue:      order.Venue,
		Price:      order.Price,
		TxHash:     order.TxHash,
		Error:      order.Error,
		OccurredAt: order.UpdatedAt,
	}
}
