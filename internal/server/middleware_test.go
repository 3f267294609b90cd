package server

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	h := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/foo", nil)
	RequestID(h).ServeHTTP(rr, req)

	gotHeader := rr.Header().Get("X-Request-ID")
	if gotHeader == "" {
		t.Fatalf("missing X-Request-ID header")
	}
	if captured != gotHeader {
		t.Fatalf("request id in context and header differ: ctx=%q header=%q", captured, gotHeader)
	}
	if len(gotHeader) != 32 && !strings.Contains(gotHeader, "T") {
		t.Fatalf("unexpected request id format: %q", gotHeader)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) { called = true })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/bar", nil)
	CORS(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Hotkey") {
		t.Fatalf("expected allowed headers to include X-Hotkey, got %q", got)
	}
	if called {
		t.Fatalf("handler should not be called for preflight OPTIONS")
	}
}

func TestCORSNormal(t *testing.T) {
	called := false
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { called = true; w.WriteHeader(http.StatusOK) })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/baz", nil)
	CORS(h).ServeHTTP(rr, req)

	if !called {
		t.Fatalf("handler was not called for normal request")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin=* got=%q", got)
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/logme", nil)
	Logger(h).ServeHTTP(rr, req)

	out := buf.String()
	if !strings.Contains(out, "method=GET") {
		t.Fatalf("log output missing method: %q", out)
	}
	if !strings.Contains(out, "status=201") {
		t.Fatalf("log output missing status=201: %q", out)
	}
}
