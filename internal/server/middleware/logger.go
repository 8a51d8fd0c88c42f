package middleware

import (
	"log/slog"
	"net/http"
)

// statusRecorder captures the status code written downstream. Unwrap keeps
// the underlying writer reachable for the WebSocket hijack.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// NewRequestLogger logs each request on completion with its status and, once
// auth has run, the identity it authenticated as. For upgraded connections
// "completion" is disconnect, which records the session end.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			var ip, userID string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
				userID = reqMeta.UserID
			}
			logger.Info("HTTP request completed",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("userID", userID),
				slog.Int("status", rec.status),
			)
		})
	}
}
