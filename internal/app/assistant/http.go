package assistant

import (
	"encoding/json"
	"net/http"

	"order-assistant/internal/common/logger"
	"order-assistant/internal/dispatch"
	"order-assistant/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler exposes the function catalog over HTTP so the conversation
// orchestrator can invoke tools without linking against this module.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	pool       *pgxpool.Pool
	metrics    *metrics.Registry
	lg         *logger.Logger
}

func NewHandler(d *dispatch.Dispatcher, pool *pgxpool.Pool, reg *metrics.Registry, lg *logger.Logger) *Handler {
	return &Handler{dispatcher: d, pool: pool, metrics: reg, lg: lg}
}

func Router(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/functions", h.ListFunctions)
	mux.HandleFunc("POST /api/v1/functions/{name}", h.CallFunction)
	mux.HandleFunc("POST /api/v1/orders/commit", h.CommitOrder)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())
	return mux
}

// callRequest is the envelope the orchestrator sends for every tool call.
type callRequest struct {
	Context dispatch.Context `json:"context"`
	Args    map[string]any   `json:"args"`
}

func (h *Handler) ListFunctions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"functions": h.dispatcher.Functions()})
}

func (h *Handler) CallFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	req, ok := decodeCall(w, r)
	if !ok {
		return
	}
	res := h.dispatcher.Dispatch(r.Context(), req.Context, name, req.Args)
	h.lg.Debug("function_dispatched", map[string]any{
		"function": name, "success": res.Success, "customer_id": req.Context.CustomerID,
	})
	writeJSON(w, statusFor(res), res)
}

func (h *Handler) CommitOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCall(w, r)
	if !ok {
		return
	}
	res := h.dispatcher.CommitOrder(r.Context(), req.Context)
	writeJSON(w, statusFor(res), res)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "db_unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeCall(w http.ResponseWriter, r *http.Request) (callRequest, bool) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", "request body must be JSON with context and args")
		return req, false
	}
	return req, true
}

// statusFor keeps the transport honest without leaking dispatch internals:
// every handled call is 200, even a domain rejection, because the result
// envelope is the contract. Only retryable infrastructure failures get 503
// so the orchestrator's retry policy can kick in.
func statusFor(res dispatch.Result) int {
	if !res.Success && res.Retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, code int, typ, detail string) {
	writeJSON(w, code, map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}
