package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sandgrain/gatemediator/internal/jobqueue"
	"github.com/sandgrain/gatemediator/internal/runtime"
)

// scriptedQueue implements Submitter and hands back a pre-built Result for
// whatever op the test cares about, without running a real Worker.
type scriptedQueue struct {
	results map[string]jobqueue.Result
	fail    error
}

func (s *scriptedQueue) Submit(op string, payload map[string]any) (string, <-chan jobqueue.Result, error) {
	if s.fail != nil {
		return "", nil, s.fail
	}
	ch := make(chan jobqueue.Result, 1)
	result, ok := s.results[op]
	if !ok {
		result = jobqueue.Result{"success": false, "error": "unscripted op " + op}
	}
	ch <- result
	return "job-1", ch, nil
}

type stubHealth struct {
	snapshot runtime.HealthSnapshot
}

func (s stubHealth) Health() runtime.HealthSnapshot {
	return s.snapshot
}

func decodeJSON(t *testing.T, body *bytes.Buffer) jobqueue.Result {
	t.Helper()
	var result jobqueue.Result
	require.NoError(t, json.NewDecoder(body).Decode(&result))
	return result
}

func TestStatusEndpointReturnsOK(t *testing.T) {
	queue := &scriptedQueue{results: map[string]jobqueue.Result{
		"status": {"status": "ok", "message": "gateway ready"},
	}}
	router := NewRouter(queue, stubHealth{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON(t, rec.Body)
	require.Equal(t, "ok", result["status"])
}

func TestGetCWRejectsMissingIdentity(t *testing.T) {
	queue := &scriptedQueue{results: map[string]jobqueue.Result{}}
	router := NewRouter(queue, stubHealth{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/get-cw", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticateReturns500OnOrchestratorFailure(t *testing.T) {
	queue := &scriptedQueue{results: map[string]jobqueue.Result{
		"authenticate": {"success": false, "error": "device error"},
	}}
	router := NewRouter(queue, stubHealth{}, zerolog.Nop())

	body := bytes.NewBufferString(`{"identity":"a","cw":"b","rw":"c","transactionId":"d"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/authenticate", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	result := decodeJSON(t, rec.Body)
	require.Equal(t, false, result["success"])
}

func TestFullAuthHappyPath(t *testing.T) {
	queue := &scriptedQueue{results: map[string]jobqueue.Result{
		"full_auth": {"success": true, "authResult": "AUTH_OK"},
	}}
	router := NewRouter(queue, stubHealth{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/full-auth", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON(t, rec.Body)
	require.Equal(t, "AUTH_OK", result["authResult"])
}

func TestHealthEndpointReportsSnapshot(t *testing.T) {
	queue := &scriptedQueue{results: map[string]jobqueue.Result{}}
	health := stubHealth{snapshot: runtime.HealthSnapshot{Status: "ok", QueueSize: 2}}
	router := NewRouter(queue, health, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON(t, rec.Body)
	require.Equal(t, "ok", result["status"])
	require.Equal(t, float64(2), result["queue_size"])
}

func TestSubmitFailureReturns500(t *testing.T) {
	queue := &scriptedQueue{fail: context.DeadlineExceeded}
	router := NewRouter(queue, stubHealth{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
