package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/videobox/videobox/internal/metrics"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	previous := slog.Default()
	slog.SetDefault(logger)
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func TestSlogMiddleware_LogsRequest(t *testing.T) {
	buf := captureLogs(t)

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	output := buf.String()
	if output == "" {
		t.Fatal("expected log output, got empty string")
	}

	expectedFields := []string{
		"method=GET",
		"path=/test",
		"status=200",
		"remote_addr=",
		"duration_ms=",
		"request_id=",
	}
	for _, field := range expectedFields {
		if !bytes.Contains([]byte(output), []byte(field)) {
			t.Errorf("expected log to contain %q, got: %s", field, output)
		}
	}
}

func TestSlogMiddleware_SetsRequestID(t *testing.T) {
	captureLogs(t)

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	if _, err := uuid.Parse(rec.Header().Get(requestIDHeader)); err != nil {
		t.Errorf("expected generated uuid request id, got %q", rec.Header().Get(requestIDHeader))
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(requestIDHeader, incoming)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != incoming {
		t.Errorf("expected incoming request id %q to be kept, got %q", incoming, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(requestIDHeader, "not a uuid <script>")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got == "not a uuid <script>" {
		t.Error("expected malformed request id to be replaced")
	}
}

func TestSlogMiddleware_SkipsHealthCheck(t *testing.T) {
	buf := captureLogs(t)

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if output := buf.String(); output != "" {
		t.Errorf("expected no log output for /api/health, got: %s", output)
	}
}

func TestSlogMiddleware_LogsNon200Status(t *testing.T) {
	buf := captureLogs(t)

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	if !bytes.Contains(buf.Bytes(), []byte("status=404")) {
		t.Errorf("expected log to contain status=404, got: %s", buf.String())
	}
}

func TestSlogMiddleware_ObservesRoutePattern(t *testing.T) {
	captureLogs(t)

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Get("/api/view/{shareToken}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	route := "/api/view/{shareToken}"
	before := testutil.CollectAndCount(metrics.HTTPRequestDuration)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/view/abc123", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/view/def456", nil))
	after := testutil.CollectAndCount(metrics.HTTPRequestDuration)

	if after == 0 || after-before > 1 {
		t.Errorf("expected tokens to share one series for %s, got %d new series", route, after-before)
	}
}

func TestSlogMiddleware_RedactsShareTokens(t *testing.T) {
	const token = "s3cr3tShareTokenXYZabc"

	tests := []struct {
		name     string
		method   string
		pattern  string
		path     string
		wantPath string
	}{
		{"view api", http.MethodGet, "/api/view/{shareToken}", "/api/view/" + token, "path=/api/view/{shareToken}"},
		{"revoke", http.MethodDelete, "/api/shares/{shareToken}", "/api/shares/" + token, "path=/api/shares/{shareToken}"},
		{"front end link", http.MethodGet, "/*", "/view/" + token, "path=/view/{shareToken}"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)

			r := chi.NewRouter()
			r.Use(slogMiddleware)
			r.MethodFunc(tc.method, tc.pattern, func(w http.ResponseWriter, r *http.Request) {})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))

			output := buf.String()
			if strings.Contains(output, token) {
				t.Errorf("access log contains share token: %s", output)
			}
			if !strings.Contains(output, tc.wantPath) {
				t.Errorf("expected log to contain %q, got: %s", tc.wantPath, output)
			}
		})
	}
}

func TestRedactSharePath(t *testing.T) {
	tests := map[string]string{
		"/api/view/abc":          "/api/view/{shareToken}",
		"/api/videos/123/shares": "/api/videos/123/shares",
		"/api/shares":            "/api/shares",
		"/api/shares/":           "/api/shares/",
		"/assets/index.js":       "/assets/index.js",
	}
	for path, want := range tests {
		if got := redactSharePath(path); got != want {
			t.Errorf("redactSharePath(%q) = %q, want %q", path, got, want)
		}
	}
}
