package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: the instance is draining, a webhook endpoint timed out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid configuration, registering after cleanup began.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: corrupted coordinator state, recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for shutdown and request-boundary failures.
const (
	// Transient errors
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // Dependency temporarily unavailable
	ErrCodeShuttingDown ErrorCode = "SHUTTING_DOWN" // Instance no longer admits work
	ErrCodeDrainTimeout ErrorCode = "DRAIN_TIMEOUT" // Drain window closed with stragglers

	// Permanent errors
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"       // Malformed or invalid input
	ErrCodeInvalidConfig      ErrorCode = "INVALID_CONFIG"      // Configuration rejected
	ErrCodeRegistrationClosed ErrorCode = "REGISTRATION_CLOSED" // Cleanup registry already sealed
	ErrCodeCleanupFailed      ErrorCode = "CLEANUP_FAILED"      // A cleanup task returned an error
	ErrCodeCanceled           ErrorCode = "CANCELED"            // Operation was canceled

	// Internal errors
	ErrCodeInternal         ErrorCode = "INTERNAL"          // Unexpected internal error
	ErrCodePanic            ErrorCode = "PANIC"             // Recovered from panic
	ErrCodeCoordinatorFault ErrorCode = "COORDINATOR_FAULT" // Shutdown bookkeeping is inconsistent
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeShuttingDown, ErrCodeDrainTimeout:
		return CategoryTransient

	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeRegistrationClosed,
		ErrCodeCleanupFailed, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeInternal, ErrCodePanic, ErrCodeCoordinatorFault:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:            "operation timed out",
	ErrCodeUnavailable:        "service temporarily unavailable",
	ErrCodeShuttingDown:       "server is shutting down",
	ErrCodeDrainTimeout:       "drain timeout reached with requests in flight",
	ErrCodeInvalidInput:       "invalid input provided",
	ErrCodeInvalidConfig:      "invalid configuration",
	ErrCodeRegistrationClosed: "cleanup registration is closed",
	ErrCodeCleanupFailed:      "cleanup task failed",
	ErrCodeCanceled:           "operation canceled",
	ErrCodeInternal:           "internal error",
	ErrCodePanic:              "recovered from panic",
	ErrCodeCoordinatorFault:   "shutdown coordinator state is inconsistent",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
