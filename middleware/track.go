package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

// Track returns middleware that admits each request through a. Rejected
// requests get 503 with Retry-After and a structured SHUTTING_DOWN body
// without reaching next. Admitted requests are released when next returns,
// including when it panics.
//
// Invalid exempt patterns are reported as an INVALID_CONFIG error.
func Track(a Admitter, opts Options) (func(http.Handler) http.Handler, error) {
	def := DefaultOptions()
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = def.RetryAfter
	}
	if opts.ExemptPaths == nil {
		opts.ExemptPaths = def.ExemptPaths
	}
	for _, p := range opts.ExemptPaths {
		if !doublestar.ValidatePattern(p) {
			return nil, dkerrors.InvalidConfig(fmt.Sprintf("invalid exempt path pattern %q", p))
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	logger := opts.Logger.WithComponent("http")
	retryAfter := strconv.Itoa(int(math.Ceil(opts.RetryAfter.Seconds())))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(RequestIDHeader, id)
			}
			w.Header().Set(RequestIDHeader, id)

			if exempt(opts.ExemptPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if !a.Start() {
				opts.Metrics.recordRejected(r)
				logger.RequestRejected(r.Method, r.URL.Path, id)

				body := dkerrors.ShuttingDown(opts.RetryAfter,
					dkerrors.WithInstanceID(opts.InstanceID),
					dkerrors.WithMetadata("request_id", id),
				)
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Connection", "close")
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}

			opts.Metrics.recordAdmitted(r)
			defer func() {
				opts.Metrics.recordCompleted(r)
				a.Complete()
			}()
			next.ServeHTTP(w, r)
		})
	}, nil
}

func exempt(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
