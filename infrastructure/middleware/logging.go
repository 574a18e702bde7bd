// Package middleware provides HTTP middleware for the debugger transport:
// the host-facing HTTP/websocket surface an external inspector connects to
// for world, entity and component browsing and per-system profiler numbers.
package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fractalforge/ecsruntime/infrastructure/logging"
)

// LoggingMiddleware logs debugger transport requests with a request ID.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.NewRequestID()
			}

			ctx := logging.WithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)
			r.Header.Set("X-Request-ID", requestID)
			w.Header().Set("X-Request-ID", requestID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}
