package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/videobox/videobox/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		elapsed := time.Since(start)
		route := routePattern(r)
		metrics.HTTPRequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(recorder.statusCode)).
			Observe(elapsed.Seconds())

		slog.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", redactSharePath(r.URL.Path),
			"route", route,
			"status", recorder.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// routePattern keeps metric cardinality bounded: share tokens and ids stay
// out of the label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Share tokens are bearer credentials; paths that carry one are logged with
// the token replaced.
var shareTokenPrefixes = []string{"/api/view/", "/api/shares/", "/view/"}

func redactSharePath(path string) string {
	for _, prefix := range shareTokenPrefixes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + "{shareToken}"
		}
	}
	return path
}
