// Package httpapi is the local JSON HTTP front-end: it converts each
// request into a Job, waits for the Worker's result within a per-operation
// timeout, and renders the result as the {success, ...} envelope every
// caller expects.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sandgrain/gatemediator/internal/jobqueue"
	"github.com/sandgrain/gatemediator/internal/runtime"
)

// Per-operation front-end timeouts, per §5's timeout table.
const (
	TimeoutStatus       = 10 * time.Second
	TimeoutIdentityCWRW = 180 * time.Second
	TimeoutAuthenticate = 240 * time.Second
)

// Submitter is the subset of *jobqueue.Queue the router depends on, so tests
// can substitute a queue with a scripted Worker.
type Submitter interface {
	Submit(op string, payload map[string]any) (string, <-chan jobqueue.Result, error)
}

// HealthReporter supplies the /api/health payload.
type HealthReporter interface {
	Health() runtime.HealthSnapshot
}

// NewRouter builds the chi router for every endpoint in §6.
func NewRouter(queue Submitter, health HealthReporter, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/api/status", handleStatus(queue))
	r.Get("/api/get-identity", handleGetIdentity(queue))
	r.Post("/api/get-cw", handleGetCW(queue))
	r.Post("/api/get-rw", handleGetRW(queue))
	r.Post("/api/authenticate", handleAuthenticate(queue))
	r.Get("/api/full-auth", handleFullAuth(queue))
	r.Get("/api/health", handleHealth(health))

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Dur("elapsed", time.Since(start)).Msg("http request")
		})
	}
}

func submitAndWait(w http.ResponseWriter, r *http.Request, queue Submitter, op string, payload map[string]any, timeout time.Duration) {
	_, ch, err := queue.Submit(op, payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jobqueue.Result{"success": false, "error": err.Error()})
		return
	}
	result := jobqueue.Wait(r.Context(), ch, timeout)
	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result jobqueue.Result) {
	status := http.StatusOK
	if success, ok := result["success"].(bool); ok && !success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func handleStatus(queue Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitAndWait(w, r, queue, "status", nil, TimeoutStatus)
	}
}

func handleGetIdentity(queue Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitAndWait(w, r, queue, "get_identity", nil, TimeoutIdentityCWRW)
	}
}

type getCWRequest struct {
	Identity string `json:"identity"`
}

func handleGetCW(queue Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getCWRequest
		if err := decodeBody(r, &req); err != nil || req.Identity == "" {
			writeJSON(w, http.StatusBadRequest, jobqueue.Result{"success": false, "error": "missing or invalid identity"})
			return
		}
		submitAndWait(w, r, queue, "get_cw", map[string]any{"identity": req.Identity}, TimeoutIdentityCWRW)
	}
}

type getRWRequest struct {
	CW string `json:"cw"`
}

func handleGetRW(queue Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getRWRequest
		if err := decodeBody(r, &req); err != nil || req.CW == "" {
			writeJSON(w, http.StatusBadRequest, jobqueue.Result{"success": false, "error": "missing or invalid cw"})
			return
		}
		submitAndWait(w, r, queue, "get_rw", map[string]any{"cw": req.CW}, TimeoutIdentityCWRW)
	}
}

type authenticateRequest struct {
	Identity      string `json:"identity"`
	CW            string `json:"cw"`
	RW            string `json:"rw"`
	TransactionID string `json:"transactionId"`
}

func handleAuthenticate(queue Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authenticateRequest
		if err := decodeBody(r, &req); err != nil || req.Identity == "" || req.CW == "" || req.RW == "" || req.TransactionID == "" {
			writeJSON(w, http.StatusBadRequest, jobqueue.Result{"success": false, "error": "missing or invalid authenticate fields"})
			return
		}
		payload := map[string]any{
			"identity":      req.Identity,
			"cw":            req.CW,
			"rw":            req.RW,
			"transactionId": req.TransactionID,
		}
		submitAndWait(w, r, queue, "authenticate", payload, TimeoutAuthenticate)
	}
}

func handleFullAuth(queue Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitAndWait(w, r, queue, "full_auth", nil, TimeoutAuthenticate)
	}
}

func handleHealth(health HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, health.Health())
	}
}
