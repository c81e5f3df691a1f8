// Package httpplatform holds HTTP middlewares shared by the game and monitoring endpoints.
package httpplatform

import (
	"log/slog"
	"net/http"
	"slices"
	"time"
)

type Middleware = func(http.Handler) http.Handler

func LogRequests(logger *slog.Logger) Middleware {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			handler.ServeHTTP(w, r)

			logger.LogAttrs(r.Context(), slog.LevelDebug, "request", slog.Group("request",
				slog.String("method", r.Method),
				slog.String("proto", r.Proto),
				slog.String("host", r.Host),
				slog.String("remote", r.RemoteAddr),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Group("headers", headers(r.Header)...),
			))
		})
	}
}

// AllowOrigins adds CORS headers for the given origins and answers preflight requests.
// The origin "*" allows any origin.
func AllowOrigins(origins []string) Middleware {
	check := OriginChecker(origins)

	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && check(r) {
				if slices.Contains(origins, "*") {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			handler.ServeHTTP(w, r)
		})
	}
}

// OriginChecker reports whether a request comes from one of origins.
// Requests without an Origin header are accepted.
func OriginChecker(origins []string) func(r *http.Request) bool {
	anyOrigin := slices.Contains(origins, "*")

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || anyOrigin || slices.Contains(origins, origin)
	}
}

func headers(hs http.Header) []any {
	attrs := make([]any, 0, len(hs))
	for k, vs := range hs {
		attrs = append(attrs, slog.String(k, vs[0]))
	}

	return attrs
}

// Wrap handler with middlewares.
func Wrap(handler http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		if mw != nil {
			handler = mw(handler)
		}
	}

	return handler
}
