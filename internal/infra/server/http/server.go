// Package httpserver exposes the order intake API and the per-order
// websocket endpoint.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/live"
	"github.com/solroute/solroute/internal/observability"
	"github.com/solroute/solroute/internal/queue"
	"github.com/solroute/solroute/internal/schema"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	ordersPath        = "/api/orders"
	orderDetailPrefix = ordersPath + "/"
	wsOrderPrefix     = "/ws/orders/"
	healthPath        = "/healthz"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Config tunes the intake surface.
type Config struct {
	// RatePerSecond and RateBurst bound order submissions across all
	// clients. Zero values disable limiting.
	RatePerSecond float64
	RateBurst     int
}

type httpServer struct {
	store   orderstore.Store
	queue   queue.Queue
	live    *live.Server
	limiter *rate.Limiter
}

type orderPayload struct {
	Token  string  `json:"token"`
	Amount float64 `json:"amount"`
	Side   string  `json:"side"`
}

type orderView struct {
	OrderID string   `json:"orderId"`
	Token   string   `json:"token"`
	Amount  float64  `json:"amount"`
	Side    string   `json:"side"`
	Status  string   `json:"status"`
	Dex     string   `json:"dex,omitempty"`
	Price   *float64 `json:"price,omitempty"`
	TxHash  string   `json:"txHash,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// NewHandler creates the HTTP handler serving intake, order lookup, health,
// and the websocket bridge.
func NewHandler(cfg Config, store orderstore.Store, q queue.Queue, liveSrv *live.Server) http.Handler {
	server := &httpServer{store: store, queue: q, live: liveSrv}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RatePerSecond)
		}
		server.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	mux := http.NewServeMux()
	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listOrders,
		http.MethodPost: server.createOrder,
	}))
	mux.Handle(orderDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getOrder,
	}))
	mux.Handle(wsOrderPrefix, http.HandlerFunc(server.handleWebsocket))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) createOrder(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "order intake rate exceeded")
		return
	}

	limitRequestBody(w, r)
	var payload orderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	payload.Token = strings.TrimSpace(payload.Token)
	if payload.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if payload.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	side := schema.Side(strings.ToLower(strings.TrimSpace(payload.Side)))
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	order := schema.Order{
		ID:     uuid.NewString(),
		Token:  payload.Token,
		Amount: decimal.NewFromFloat(payload.Amount),
		Side:   side,
		State:  schema.StatePending,
	}
	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		writeStoreError(w, err)
		return
	}
	job := queue.Job{OrderID: order.ID, Token: order.Token, Amount: order.Amount, Side: order.Side}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		observability.Log().Error("intake: enqueue failed",
			observability.F("order_id", order.ID),
			observability.F("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "order queue unavailable")
		return
	}

	observability.Log().Info("intake: order queued",
		observability.F("order_id", order.ID),
		observability.F("token", order.Token),
		observability.F("side", string(order.Side)))

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orderId": order.ID,
		"message": "Order queued",
		"wsUrl":   "ws://" + r.Host + wsOrderPrefix + order.ID,
	})
}

func (s *httpServer) getOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, orderDetailPrefix), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "order id required")
		return
	}
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(order))
}

func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	query := orderstore.Query{}
	if states := strings.TrimSpace(r.URL.Query().Get("state")); states != "" {
		for _, raw := range strings.Split(states, ",") {
			state := schema.OrderState(strings.ToUpper(strings.TrimSpace(raw)))
			if !state.Valid() {
				writeError(w, http.StatusBadRequest, "unknown state "+raw)
				return
			}
			query.States = append(query.States, state)
		}
	}
	orders, err := s.store.ListOrders(r.Context(), query)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, viewOf(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *httpServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, wsOrderPrefix), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "order id required")
		return
	}
	s.live.HandleOrder(w, r, id)
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func viewOf(order schema.Order) orderView {
	view := orderView{
		OrderID: order.ID,
		Token:   order.Token,
		Amount:  order.Amount.InexactFloat64(),
		Side:    string(order.Side),
		Status:  string(order.State),
		Dex:     order.Venue,
		TxHash:  order.TxHash,
		Error:   order.Error,
	}
	if order.Price != nil {
		price := order.Price.InexactFloat64()
		view.Price = &price
	}
	return view
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch errs.CodeOf(err) {
	case errs.CodeNotFound:
		writeError(w, http.StatusNotFound, "order not found")
	case errs.CodeInvalid:
		writeError(w, http.StatusBadRequest, "invalid request")
	case errs.CodeConflict:
		writeError(w, http.StatusConflict, "order already exists")
	default:
		observability.Log().Error("intake: store failure", observability.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "order store unavailable")
	}
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "malformed request body")
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
