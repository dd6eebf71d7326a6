package shutdown

import (
	"github.com/vinayprograms/drainkit/logging"
)

// RequestTracker counts requests currently being processed. Admission and
// release are lock-free; both operate on the coordinator's gate word so that
// no request is admitted once draining has begun.
type RequestTracker struct {
	gate   *gate
	zero   chan struct{}
	logger *logging.Logger
}

func newRequestTracker(g *gate, logger *logging.Logger) *RequestTracker {
	return &RequestTracker{
		gate:   g,
		zero:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Start admits a request if the coordinator is still RUNNING. A false return
// means the request was rejected and the counter was not touched; the
// caller must not call Complete.
func (t *RequestTracker) Start() bool {
	return t.gate.admit()
}

// Complete releases one admitted request. It must be called exactly once for
// every Start that returned true, on every exit path.
func (t *RequestTracker) Complete() {
	n, ok := t.gate.release()
	if !ok {
		t.logger.Warn("request_complete_unmatched", logging.Fields{
			"state": t.gate.state().String(),
		})
		return
	}
	if n == 0 {
		select {
		case t.zero <- struct{}{}:
		default:
		}
	}
}

// Count returns a snapshot of the in-flight count.
func (t *RequestTracker) Count() int64 {
	return t.gate.count()
}

// Track runs fn as one admitted request. It returns ErrShuttingDown without
// calling fn if admission is refused. Complete runs on every path out of fn,
// including a panic, which is re-raised afterwards.
func (t *RequestTracker) Track(fn func() error) error {
	if !t.Start() {
		return ErrShuttingDown
	}
	defer t.Complete()
	return fn()
}

// drained returns the channel that receives a token whenever the count
// drops to zero.
func (t *RequestTracker) drained() <-chan struct{} {
	return t.zero
}
