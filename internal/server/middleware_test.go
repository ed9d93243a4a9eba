package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bobmcallan/tally/internal/common"
)

// logCapture collects raw log output so tests can check level filtering.
type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) output() string {
	return c.buf.String()
}

func TestLoggingMiddleware_4xxUsesInfoLevel(t *testing.T) {
	// At WARN, Info() events are filtered out.
	capture := &logCapture{}
	logger := common.NewLoggerWithOutput("warn", capture)

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/missing", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(capture.output(), "HTTP request") {
		t.Errorf("Expected 404 log to be filtered at WARN level, got: %s", capture.output())
	}
}

func TestLoggingMiddleware_5xxUsesErrorLevel(t *testing.T) {
	capture := &logCapture{}
	logger := common.NewLoggerWithOutput("warn", capture)

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/broken", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(capture.output(), "HTTP request") {
		t.Errorf("Expected 500 log to pass WARN filter, got: %q", capture.output())
	}
}

func TestLoggingMiddleware_2xxUsesTraceLevel(t *testing.T) {
	capture := &logCapture{}
	logger := common.NewLoggerWithOutput("info", capture)

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(capture.output(), "HTTP request") {
		t.Errorf("Expected 200 log to be filtered at INFO level, got: %s", capture.output())
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rr.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "req-42" {
		t.Errorf("expected propagated id, got %q", got)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 8 {
		t.Errorf("expected generated 8-char id, got %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	capture := &logCapture{}
	logger := common.NewLoggerWithOutput("error", capture)

	handler := recoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rr.Code)
	}
	if !strings.Contains(capture.output(), "boom") {
		t.Errorf("expected panic to be logged, got %q", capture.output())
	}
}
