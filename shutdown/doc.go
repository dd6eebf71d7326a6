// Package shutdown coordinates the controlled exit of a long-running service.
//
// # Overview
//
// When asked to stop, the coordinator stops admitting new requests, waits for
// in-flight requests to finish (bounded by a timeout), runs cleanup tasks in
// reverse registration order, and only then reports that the process may
// exit.
//
// # State machine
//
//	RUNNING ──► DRAINING ──► CLEANING_UP ──► STOPPED
//	   │            │              │
//	 admit      wait for       run cleanup
//	requests   in-flight = 0   tasks LIFO
//	           (or timeout)
//
// The state and the in-flight counter share one atomic word, so a request
// is either admitted before the RUNNING → DRAINING transition or rejected
// after it. There is no window in between.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//
//	// Register in dependency order; teardown runs in reverse.
//	coord.RegisterCleanupTask("database", db)
//	coord.RegisterFunc("cache", func(ctx context.Context) error {
//	    return cache.Close()
//	})
//
//	listener := shutdown.NewSignalListener(coord, 30*time.Second, logger)
//	listener.Start() // SIGTERM, SIGINT
//
//	// In the request path:
//	tracker := coord.Tracker()
//	if !tracker.Start() {
//	    // respond 503 with Retry-After
//	}
//	defer tracker.Complete()
//
//	outcome := coord.Wait()
//	if outcome.Failed() {
//	    log.Printf("cleanup failed: %v", outcome.FailedNames())
//	}
//
// # Guarantees
//
//   - BeginShutdown is idempotent. Concurrent callers agree on one winner;
//     the rest block and receive the same Outcome.
//   - IsShuttingDown never reverts once true.
//   - Cleanup tasks run one at a time. A failing or panicking task is
//     recorded and the rest still run.
//   - Requests still running when the drain timeout expires are reported as
//     stragglers and are not cancelled.
package shutdown
