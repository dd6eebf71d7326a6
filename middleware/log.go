package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/vinayprograms/drainkit/logging"
)

// RequestLog returns middleware that emits one access log line per request
// after it completes. Place it outside Track so rejected requests are
// logged too.
func RequestLog(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("request", logging.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"status":         m.Code,
				"duration_ms":    m.Duration.Milliseconds(),
				"response_bytes": m.Written,
				"remote_addr":    r.RemoteAddr,
				"request_id":     w.Header().Get(RequestIDHeader),
			})
		})
	}
}
