package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// StructuredError is the interface for all structured errors in drainkit.
// It extends the standard error interface with the context a caller needs
// to decide whether to retry, and what to tell its own client.
type StructuredError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of StructuredError.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	retryable  *bool // nil means use default based on category
	retryAfter time.Duration
	timestamp  time.Time
	instanceID string // emitting service instance, if applicable
	taskName   string // related cleanup task, if applicable
}

var (
	_ StructuredError  = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// RetryAfter returns the suggested client back-off, zero when unset.
func (e *Error) RetryAfter() time.Duration {
	return e.retryAfter
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// InstanceID returns the emitting instance ID, if set.
func (e *Error) InstanceID() string {
	return e.instanceID
}

// TaskName returns the related cleanup task name, if set.
func (e *Error) TaskName() string {
	return e.taskName
}

type errorJSON struct {
	Code         ErrorCode         `json:"code"`
	Category     ErrorCategory     `json:"category"`
	Message      string            `json:"message"`
	Cause        string            `json:"cause,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Retryable    bool              `json:"retryable"`
	RetryAfterMS int64             `json:"retry_after_ms,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	InstanceID   string            `json:"instance_id,omitempty"`
	TaskName     string            `json:"task_name,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:         e.code,
		Category:     e.category,
		Message:      e.message,
		Metadata:     e.metadata,
		Retryable:    e.Retryable(),
		RetryAfterMS: e.retryAfter.Milliseconds(),
		InstanceID:   e.instanceID,
		TaskName:     e.taskName,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.instanceID = j.InstanceID
	e.taskName = j.TaskName
	e.retryAfter = time.Duration(j.RetryAfterMS) * time.Millisecond
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithRetryAfter sets the back-off hint surfaced to clients.
func WithRetryAfter(d time.Duration) Option {
	return func(e *Error) {
		e.retryAfter = d
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithInstanceID sets the emitting instance ID.
func WithInstanceID(id string) Option {
	return func(e *Error) {
		e.instanceID = id
	}
}

// WithTaskName sets the related cleanup task.
func WithTaskName(name string) Option {
	return func(e *Error) {
		e.taskName = name
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// ShuttingDown creates the error returned to callers rejected at admission.
func ShuttingDown(retryAfter time.Duration, opts ...Option) *Error {
	opts = append([]Option{WithRetryAfter(retryAfter)}, opts...)
	return FromCode(ErrCodeShuttingDown, opts...)
}

// CleanupFailed wraps the error a cleanup task returned.
func CleanupFailed(task string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithTaskName(task), WithCause(cause)}, opts...)
	return New(ErrCodeCleanupFailed, fmt.Sprintf("cleanup task %q failed", task), opts...)
}

// CoordinatorFault creates the error reported when shutdown bookkeeping is
// found in an impossible state.
func CoordinatorFault(message string, opts ...Option) *Error {
	return New(ErrCodeCoordinatorFault, message, opts...)
}

// InvalidConfig creates a configuration validation error.
func InvalidConfig(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidConfig, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
