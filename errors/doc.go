// Package errors provides the structured error taxonomy used across drainkit.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: the caller may retry later (instance draining, timeouts)
//   - Permanent: retrying will not help (bad config, registry sealed)
//   - Internal: bugs or corrupted state (coordinator faults, panics)
//
// # Error Codes
//
//   - SHUTTING_DOWN: the instance no longer admits new work
//   - DRAIN_TIMEOUT: the drain window closed with requests still in flight
//   - CLEANUP_FAILED: a registered cleanup task returned an error or panicked
//   - REGISTRATION_CLOSED: a cleanup task was registered after cleanup began
//   - COORDINATOR_FAULT: the shutdown state machine observed an impossible state
//   - And a handful of generic codes (TIMEOUT, INTERNAL, PANIC, ...)
//
// # Usage
//
//	err := errors.ShuttingDown(10 * time.Second)
//	if errors.Is(err, errors.ErrCodeShuttingDown) {
//	    // respond 503 with Retry-After
//	}
//
// All errors marshal to JSON, which is how rejected HTTP requests receive
// their response body.
package errors
