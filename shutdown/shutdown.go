package shutdown

import (
	"context"
	"os"
	"time"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

// ExitCodeCoordinatorFault is the process exit code used when the
// coordinator finds its own bookkeeping in an impossible state (EX_SOFTWARE).
const ExitCodeCoordinatorFault = 70

// Common errors.
var (
	// ErrShuttingDown is returned by Track when the request was not admitted.
	ErrShuttingDown = dkerrors.FromCode(dkerrors.ErrCodeShuttingDown)

	// ErrRegistrationClosed is returned when a cleanup task is registered
	// after cleanup has started. The task is dropped.
	ErrRegistrationClosed = dkerrors.FromCode(dkerrors.ErrCodeRegistrationClosed)

	// ErrInvalidTask is returned when a cleanup task has no name or action.
	ErrInvalidTask = dkerrors.New(dkerrors.ErrCodeInvalidInput, "cleanup task requires a name and an action")
)

// State is the coordinator's position in the exit sequence.
// Transitions only move forward: RUNNING → DRAINING → CLEANING_UP → STOPPED.
type State uint8

const (
	StateRunning State = iota
	StateDraining
	StateCleaningUp
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCleaningUp:
		return "cleaning_up"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s <= StateStopped
}

// ParseState returns the state named by s, as produced by String.
func ParseState(s string) (State, bool) {
	for st := StateRunning; st <= StateStopped; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Cleaner is implemented by subsystems owning a releasable resource.
type Cleaner interface {
	// Cleanup releases the resource. It is invoked exactly once, during
	// CLEANING_UP. The context carries the per-task deadline, if configured.
	Cleanup(ctx context.Context) error
}

// CleanupFunc adapts a plain function to Cleaner.
type CleanupFunc func(ctx context.Context) error

// Cleanup implements Cleaner.
func (f CleanupFunc) Cleanup(ctx context.Context) error {
	return f(ctx)
}

// Starter runs a shutdown sequence for an external source.
// BeginShutdownFrom blocks until the sequence finishes; callers that must
// not wait run it on their own goroutine. The signal listener depends on
// this rather than on the concrete Coordinator.
type Starter interface {
	BeginShutdownFrom(trigger string, timeout time.Duration) *Outcome
}

// Transition describes one state change.
type Transition struct {
	From     State     `json:"-"`
	To       State     `json:"-"`
	At       time.Time `json:"at"`
	InFlight int64     `json:"in_flight"`
	Trigger  string    `json:"trigger,omitempty"`
}

// Observer is notified synchronously on every state change, in registration
// order. Observers run on the shutdown goroutine and should return quickly.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(t Transition)

// OnTransition implements Observer.
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}

// OutcomeState summarizes how cleanup went.
type OutcomeState string

const (
	// OutcomeComplete means every cleanup task succeeded.
	OutcomeComplete OutcomeState = "complete"

	// OutcomePartial means at least one cleanup task failed. It is not fatal.
	OutcomePartial OutcomeState = "partial"
)

// TaskFailure names a cleanup task that failed and why.
type TaskFailure struct {
	Name string
	Err  error
}

// TaskResult contains the result of a single cleanup task.
type TaskResult struct {
	// Name of the task.
	Name string

	// Index is the registration index (0 = registered first).
	Index int

	// Duration is how long the task took.
	Duration time.Duration

	// Err is the error returned or recovered from a panic, if any.
	Err error
}

// Outcome is the record of a finished shutdown sequence. It is created once
// per coordinator and is read-only afterward.
type Outcome struct {
	State         OutcomeState
	Drained       bool
	Stragglers    int64
	FailedTasks   []TaskFailure
	Tasks         []TaskResult
	DrainDuration time.Duration
	TotalDuration time.Duration
	Trigger       string
}

// Failed reports whether any cleanup task failed.
func (o *Outcome) Failed() bool {
	return len(o.FailedTasks) > 0
}

// FailedNames returns the names of failed cleanup tasks in execution order.
func (o *Outcome) FailedNames() []string {
	names := make([]string, 0, len(o.FailedTasks))
	for _, f := range o.FailedTasks {
		names = append(names, f.Name)
	}
	return names
}

// Config configures the coordinator.
type Config struct {
	// DefaultTimeout bounds the drain window when BeginShutdown is given a
	// non-positive timeout.
	DefaultTimeout time.Duration

	// PollInterval is the fallback re-check period while draining.
	PollInterval time.Duration

	// TaskTimeout, when positive, sets a deadline on each cleanup task's
	// context. Zero means no deadline.
	TaskTimeout time.Duration

	// Logger receives lifecycle events. Defaults to logging.New().
	Logger *logging.Logger

	// Exit is called with ExitCodeCoordinatorFault on an unrecoverable
	// fault. Defaults to os.Exit.
	Exit func(code int)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.TaskTimeout < 0 {
		c.TaskTimeout = 0
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
	if c.Exit == nil {
		c.Exit = os.Exit
	}
	return c
}
