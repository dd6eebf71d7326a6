package shutdown

import (
	"context"
	"sync"
	"time"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/telemetry"
)

// Coordinator owns the shutdown state machine. One coordinator is built by
// the composition root and shared by reference with the request boundary,
// readiness probes, and every subsystem that registers cleanup.
type Coordinator struct {
	config Config
	logger *logging.Logger

	gate     gate
	tracker  *RequestTracker
	drain    *DrainController
	registry *CleanupRegistry

	obsMu     sync.Mutex
	observers []Observer

	done      chan struct{}
	doneOnce  sync.Once
	faultOnce sync.Once
	outcome   *Outcome
}

// NewCoordinator creates a coordinator in the RUNNING state.
func NewCoordinator(config Config) *Coordinator {
	config = config.withDefaults()
	logger := config.Logger.WithComponent("shutdown")

	c := &Coordinator{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
	c.tracker = newRequestTracker(&c.gate, logger)
	c.drain = NewDrainController(c.tracker, config.PollInterval)
	c.registry = NewCleanupRegistry(config.TaskTimeout, logger)
	return c
}

// RegisterCleanupTask adds a cleanup task. Tasks run in reverse registration
// order once draining ends. Registering after cleanup has started drops the
// task and returns ErrRegistrationClosed.
func (c *Coordinator) RegisterCleanupTask(name string, action Cleaner) error {
	if c.gate.state() >= StateCleaningUp {
		c.logger.Warn("cleanup_registration_rejected", logging.Fields{
			"task":  name,
			"state": c.gate.state().String(),
		})
		return ErrRegistrationClosed
	}
	return c.registry.Register(name, action)
}

// RegisterFunc is a convenience method for registering a function as a
// cleanup task.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrInvalidTask
	}
	return c.RegisterCleanupTask(name, CleanupFunc(fn))
}

// AddObserver registers an observer for state transitions.
func (c *Coordinator) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

// BeginShutdown starts the exit sequence and blocks until it finishes.
// A non-positive timeout selects Config.DefaultTimeout.
func (c *Coordinator) BeginShutdown(timeout time.Duration) *Outcome {
	return c.BeginShutdownFrom("api", timeout)
}

// BeginShutdownFrom is BeginShutdown with the trigger source recorded in the
// outcome. Only the first caller runs the sequence; every other caller
// blocks until it is done and receives the same *Outcome.
//
// The returned outcome is nil only if the sequence aborted on a coordinator
// fault and the configured exit function returned.
//
// Calling this from inside a cleanup task or observer deadlocks.
func (c *Coordinator) BeginShutdownFrom(trigger string, timeout time.Duration) *Outcome {
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}

	if !c.gate.advance(StateRunning, StateDraining) {
		state := c.gate.state()
		if !state.Valid() {
			c.fault("state outside the defined set", state)
			c.finish(nil)
		} else {
			c.logger.RedundantTrigger(trigger, state.String())
		}
		<-c.done
		return c.outcome
	}

	return c.run(trigger, timeout)
}

// Trigger starts shutdown on a new goroutine and returns immediately.
func (c *Coordinator) Trigger(source string) {
	go c.BeginShutdownFrom(source, 0)
}

func (c *Coordinator) run(trigger string, timeout time.Duration) *Outcome {
	start := time.Now()
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartShutdownSpan(context.Background(), trigger, timeout)

	inFlight := c.tracker.Count()
	c.logger.ShutdownBegin(trigger, timeout, inFlight)
	c.notify(StateRunning, StateDraining, trigger)

	_, drainSpan := tracer.StartDrainSpan(ctx, inFlight)
	dr := c.drain.WaitForDrain(timeout)
	tracer.EndDrainSpan(drainSpan, telemetry.DrainSpanOptions{
		Drained:    dr.Drained,
		Stragglers: dr.Stragglers,
		Waited:     dr.Waited,
	})
	c.logger.DrainComplete(dr.Drained, dr.Stragglers, dr.Waited)

	if !c.transition(StateDraining, StateCleaningUp, trigger) {
		span.End()
		c.finish(nil)
		return nil
	}

	results := c.registry.RunAll(ctx)

	if !c.transition(StateCleaningUp, StateStopped, trigger) {
		span.End()
		c.finish(nil)
		return nil
	}

	outcome := &Outcome{
		State:         OutcomeComplete,
		Drained:       dr.Drained,
		Stragglers:    dr.Stragglers,
		Tasks:         results,
		DrainDuration: dr.Waited,
		TotalDuration: time.Since(start),
		Trigger:       trigger,
	}
	for _, r := range results {
		if r.Err != nil {
			outcome.FailedTasks = append(outcome.FailedTasks, TaskFailure{Name: r.Name, Err: r.Err})
		}
	}
	if outcome.Failed() {
		outcome.State = OutcomePartial
	}

	c.logger.ShutdownComplete(string(outcome.State), len(outcome.FailedTasks), outcome.TotalDuration)
	tracer.EndShutdownSpan(span, telemetry.ShutdownSpanOptions{
		Status:      string(outcome.State),
		FailedTasks: len(outcome.FailedTasks),
		Stragglers:  outcome.Stragglers,
	})

	c.finish(outcome)
	return outcome
}

// transition advances the state and notifies observers. A failed advance is
// a coordinator fault: only the winning shutdown goroutine moves the state
// past DRAINING.
func (c *Coordinator) transition(from, to State, trigger string) bool {
	if !c.gate.advance(from, to) {
		c.fault("unexpected state during "+from.String()+" → "+to.String(), c.gate.state())
		return false
	}
	c.notify(from, to, trigger)
	return true
}

func (c *Coordinator) notify(from, to State, trigger string) {
	t := Transition{
		From:     from,
		To:       to,
		At:       time.Now(),
		InFlight: c.tracker.Count(),
		Trigger:  trigger,
	}
	c.logger.StateTransition(from.String(), to.String(), t.InFlight)

	c.obsMu.Lock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.Unlock()

	for _, o := range observers {
		c.callObserver(o, t)
	}
}

func (c *Coordinator) callObserver(o Observer, t Transition) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("observer_panic", logging.Fields{
				"to":    t.To.String(),
				"panic": dkerrors.RecoverPanic(rec).Error(),
			})
		}
	}()
	o.OnTransition(t)
}

// fault reports an unrecoverable inconsistency and exits the process. Only
// the first fault is reported.
func (c *Coordinator) fault(reason string, observed State) {
	c.faultOnce.Do(func() {
		err := dkerrors.CoordinatorFault(reason,
			dkerrors.WithMetadata("observed_state", observed.String()),
		)
		c.logger.Fatal("coordinator_fault", logging.Fields{
			"error":     err.Error(),
			"raw_state": uint8(observed),
			"exit_code": ExitCodeCoordinatorFault,
		})
		c.config.Exit(ExitCodeCoordinatorFault)
	})
}

func (c *Coordinator) finish(o *Outcome) {
	c.doneOnce.Do(func() {
		c.outcome = o
		close(c.done)
	})
}

// IsShuttingDown reports whether shutdown has begun. Once true it stays true.
func (c *Coordinator) IsShuttingDown() bool {
	return c.gate.state() != StateRunning
}

// State returns the current state.
func (c *Coordinator) State() State {
	return c.gate.state()
}

// InFlight returns the number of requests currently admitted.
func (c *Coordinator) InFlight() int64 {
	return c.gate.count()
}

// Tracker returns the request tracker used by the request boundary.
func (c *Coordinator) Tracker() *RequestTracker {
	return c.tracker
}

// Done returns a channel that is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the shutdown outcome, or nil if shutdown has not finished.
func (c *Coordinator) Outcome() *Outcome {
	select {
	case <-c.done:
		return c.outcome
	default:
		return nil
	}
}

// Wait blocks until shutdown has finished and returns the outcome.
func (c *Coordinator) Wait() *Outcome {
	<-c.done
	return c.outcome
}
