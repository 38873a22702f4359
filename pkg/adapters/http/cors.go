package http

import (
	"net/http"
	"slices"
)

const preflightMaxAge = "86400"

// enableCORS answers preflight requests and stamps CORS headers on every response.
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

		if r.Method == http.MethodOptions {
			allowHeaders := r.Header.Get("Access-Control-Request-Headers")
			if allowHeaders == "" {
				allowHeaders = "content-type"
			}
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Max-Age", preflightMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.Set("Access-Control-Allow-Headers", "content-type")
		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the Access-Control-Allow-Origin value for a request origin,
// or "" when the origin is not allowed.
func (s *Server) allowOrigin(origin string) string {
	if slices.Contains(s.origins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.origins, origin) {
		return origin
	}
	return ""
}
