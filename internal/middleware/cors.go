package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware lets browser wallets on the configured origins call the API.
// An empty list disables CORS headers.
type CORSMiddleware struct {
	exact    map[string]struct{}
	suffixes []string
	any      bool
}

// NewCORSMiddleware builds the origin set. "*" allows any origin and an entry
// starting with "." allows every origin under that domain.
func NewCORSMiddleware(origins []string) *CORSMiddleware {
	m := &CORSMiddleware{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case o == "*":
			m.any = true
		case strings.HasPrefix(o, "."):
			m.suffixes = append(m.suffixes, o)
		default:
			m.exact[strings.TrimRight(o, "/")] = struct{}{}
		}
	}
	return m
}

// Handler returns the CORS middleware handler.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if m.Allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			h.Set("Access-Control-Max-Age", "3600")
		}

		// preflight
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allows reports whether origin may call the API.
func (m *CORSMiddleware) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if m.any {
		return true
	}
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(origin, s) {
			return true
		}
	}
	return false
}
