package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"qmtbridge/internal/domain"
	"qmtbridge/internal/engine"
	"qmtbridge/internal/store"
)

// maxBodyBytes caps request bodies; order requests are small.
const maxBodyBytes = 64 << 10

// submitResponse is returned by POST /api/orders.
type submitResponse struct {
	Handle string `json:"handle"`
	Error  string `json:"error,omitempty"`
}

// basketResponse is returned by POST /api/basket-orders.
type basketResponse struct {
	Handles []string `json:"handles"`
	Error   string   `json:"error,omitempty"`
}

// cancelResponse is returned by DELETE /api/orders/{handle}.
type cancelResponse struct {
	Handle string `json:"handle"`
	Status string `json:"status"` // "sent" or "pending"
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.eng.Orders(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if r.URL.Query().Get("active") == "true" {
		active := orders[:0]
		for _, o := range orders {
			if o.IsActive() {
				active = append(active, o)
			}
		}
		orders = active
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.eng.Order(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	if _, err := s.eng.Order(r.Context(), handle); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	hist, err := s.journal.OrderHistory(r.Context(), handle)
	if err != nil {
		s.log.Error("reading order history", "handle", handle, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hist == nil {
		hist = []store.OrderSnapshot{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	handle, err := s.eng.SendOrder(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, submitResponse{Handle: handle})
	case handle != "":
		// Registered, then rejected while handing it to the backend.
		writeJSON(w, http.StatusBadGateway, submitResponse{Handle: handle, Error: err.Error()})
	default:
		writeError(w, statusFor(err), err.Error())
	}
}

func (s *Server) handleSubmitBasket(w http.ResponseWriter, r *http.Request) {
	var req engine.BasketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	handles, err := s.eng.SendBasketOrder(r.Context(), req)
	if err != nil && len(handles) == 0 {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := basketResponse{Handles: handles}
	if resp.Handles == nil {
		resp.Handles = []string{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	err := s.eng.CancelOrder(r.Context(), handle)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cancelResponse{Handle: handle, Status: "sent"})
	case errors.Is(err, engine.ErrCancelPending):
		writeJSON(w, http.StatusAccepted, cancelResponse{Handle: handle, Status: "pending"})
	default:
		writeError(w, statusFor(err), err.Error())
	}
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TradeFilter{Handle: q.Get("handle"), Symbol: q.Get("symbol")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	trades, err := s.journal.ListTrades(r.Context(), f)
	if err != nil {
		s.log.Error("listing trades", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrOrderTerminal):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, engine.ErrRiskLimit):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoBasket):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
