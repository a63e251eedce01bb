package server

import (
	"net/http"
	"strings"
)

type SecurityConfig struct {
	BaseURL               string
	StorageEndpoint       string
	AllowedFrameAncestors string
}

// securityHeaders sets a static CSP. Playback and upload URLs point at the
// storage endpoint, so media and connect sources include it.
func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(cfg.BaseURL, "https://")

	storageSuffix := ""
	if cfg.StorageEndpoint != "" {
		storageSuffix = " " + cfg.StorageEndpoint
	}

	frameAncestors := "'self'"
	if cfg.AllowedFrameAncestors != "" {
		frameAncestors += " " + cfg.AllowedFrameAncestors
	}

	csp := "default-src 'self'; img-src 'self' data:" + storageSuffix +
		"; media-src 'self' blob:" + storageSuffix +
		"; script-src 'self'; style-src 'self'; connect-src 'self'" + storageSuffix +
		"; object-src 'none'; base-uri 'self'; frame-ancestors " + frameAncestors + ";"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), display-capture=()")
			w.Header().Set("Content-Security-Policy", csp)

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
