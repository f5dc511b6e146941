package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestID_PropagatesIncomingHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-Id") != "abc" {
		t.Fatalf("seen=%q header=%q", seen, rec.Header().Get("X-Request-Id"))
	}
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestID(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if id := rec.Header().Get("X-Request-Id"); !strings.HasPrefix(id, "req_") {
		t.Fatalf("generated id=%q", id)
	}
}

func TestRequestID_ReplacesUnsafeHeader(t *testing.T) {
	cases := map[string]string{
		"too long":     strings.Repeat("a", 65),
		"newline":      "abc\ninjected",
		"space":        "abc def",
		"non ascii":    "abc\u00e9",
		"json breaker": `abc"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-Id", in)
			rec := httptest.NewRecorder()
			RequestID(http.NotFoundHandler()).ServeHTTP(rec, req)
			if id := rec.Header().Get("X-Request-Id"); id == in || !strings.HasPrefix(id, "req_") {
				t.Fatalf("id=%q, want a generated id", id)
			}
		})
	}
}

func TestRequestID_KeepsLongestAllowed(t *testing.T) {
	in := strings.Repeat("A-_9", 16)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", in)
	rec := httptest.NewRecorder()
	RequestID(http.NotFoundHandler()).ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-Id"); id != in {
		t.Fatalf("id=%q, want %q", id, in)
	}
}

func TestLogging_WritesAccessLineWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodPost, "/generate-question", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["req_id"] != "rid-1" || line["path"] != "/generate-question" || line["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected access line: %v", line)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/generate-question", nil))
	if called {
		t.Fatal("preflight must not reach the handler")
	}
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("code=%d headers=%v", rec.Code, rec.Header())
	}
}
