package middleware

import (
	"net/http"
)

// Readiness reports 200 while the coordinator is running and 503 from the
// moment shutdown begins, so routers stop sending new work even while
// in-flight requests are still draining.
func Readiness(s StatusSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ready := !s.IsShuttingDown()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"ready":     ready,
			"state":     s.State().String(),
			"in_flight": s.InFlight(),
		})
	})
}

// Liveness always reports 200. A draining process is still alive and must
// not be restarted mid-drain.
func Liveness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
