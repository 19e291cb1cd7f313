package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger emits one line per request after the handler finishes.
// Caller identity travels in headers (see Principal), which are read here
// directly so the line carries them even though this middleware runs before
// Principal lifts them into the context. Server faults log at error level.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr),
				}
				if p := r.Header.Get("X-Principal"); p != "" {
					fields = append(fields, zap.String("principal", p))
				}
				if scopes := splitScopes(r.Header.Get("X-Ontology-Scopes")); len(scopes) > 0 {
					fields = append(fields, zap.Strings("ontology_scopes", scopes))
				}
				if ww.Status() >= http.StatusInternalServerError {
					logger.Error("request failed", fields...)
				} else {
					logger.Info("request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
