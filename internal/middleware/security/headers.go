package security

import (
	"fmt"
	"net/http"
	"slices"
)

// dashboardCSP allows only same-origin scripts and styles; the dashboard
// draws its charts with its own static script.
const dashboardCSP = "default-src 'self'; script-src 'self'; style-src 'self'; " +
	"img-src 'self' data:; connect-src 'self'; object-src 'none'; " +
	"frame-ancestors 'none'; base-uri 'self'; form-action 'self'"

// HeadersConfig lists the response headers set on every request.
type HeadersConfig struct {
	// Always is set on every response. Empty values are skipped.
	Always map[string]string
	// HSTS is the Strict-Transport-Security value for TLS requests.
	HSTS string
}

func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		Always: map[string]string{
			"Content-Security-Policy":      dashboardCSP,
			"X-Content-Type-Options":       "nosniff",
			"X-Frame-Options":              "DENY",
			"Referrer-Policy":              "strict-origin-when-cross-origin",
			"Permissions-Policy":           "geolocation=(), microphone=(), camera=(), payment=()",
			"Cross-Origin-Opener-Policy":   "same-origin",
			"Cross-Origin-Resource-Policy": "same-origin",
		},
		HSTS: "max-age=31536000; includeSubDomains",
	}
}

type header struct{ name, value string }

type HeadersMiddleware struct {
	always []header
	hsts   string
}

func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	m := &HeadersMiddleware{hsts: config.HSTS}
	for name, value := range config.Always {
		if value != "" {
			m.always = append(m.always, header{http.CanonicalHeaderKey(name), value})
		}
	}
	slices.SortFunc(m.always, func(a, b header) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return m
}

func (m *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, hd := range m.always {
			h.Set(hd.name, hd.value)
		}
		if r.TLS != nil && m.hsts != "" {
			h.Set("Strict-Transport-Security", m.hsts)
		}
		next.ServeHTTP(w, r)
	})
}

// StaticAssetMiddleware marks embedded assets cacheable for maxAge seconds.
func StaticAssetMiddleware(maxAge int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxAge > 0 {
				w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
			}
			next.ServeHTTP(w, r)
		})
	}
}
