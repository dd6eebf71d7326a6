package shutdown

import (
	"context"
	"sync"
	"time"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/telemetry"
)

// CleanupTask is a named release action. It is immutable once registered.
type CleanupTask struct {
	Name   string
	Action Cleaner
	Index  int
}

// CleanupRegistry holds cleanup tasks in registration order and runs them in
// reverse. It accepts registrations until sealed.
type CleanupRegistry struct {
	mu          sync.Mutex
	tasks       []CleanupTask
	sealed      bool
	taskTimeout time.Duration
	logger      *logging.Logger
}

// NewCleanupRegistry creates an empty registry. A positive taskTimeout puts
// a deadline on each task's context.
func NewCleanupRegistry(taskTimeout time.Duration, logger *logging.Logger) *CleanupRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CleanupRegistry{taskTimeout: taskTimeout, logger: logger}
}

// Register appends a task. After Seal the task is dropped, a warning is
// logged and ErrRegistrationClosed is returned.
func (r *CleanupRegistry) Register(name string, action Cleaner) error {
	if name == "" || action == nil {
		return ErrInvalidTask
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		r.logger.Warn("cleanup_registration_rejected", logging.Fields{"task": name})
		return ErrRegistrationClosed
	}
	r.tasks = append(r.tasks, CleanupTask{Name: name, Action: action, Index: len(r.tasks)})
	return nil
}

// Len returns the number of registered tasks.
func (r *CleanupRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Names returns task names in registration order.
func (r *CleanupRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		names[i] = t.Name
	}
	return names
}

// Seal stops further registrations and returns a snapshot of the tasks.
func (r *CleanupRegistry) Seal() []CleanupTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	snapshot := make([]CleanupTask, len(r.tasks))
	copy(snapshot, r.tasks)
	return snapshot
}

// RunAll seals the registry and runs every task in reverse registration
// order, one at a time. A failing or panicking task is logged and recorded;
// the remaining tasks still run.
func (r *CleanupRegistry) RunAll(ctx context.Context) []TaskResult {
	tasks := r.Seal()
	tracer := telemetry.GetTracer()

	results := make([]TaskResult, 0, len(tasks))
	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]

		taskCtx, span := tracer.StartCleanupSpan(ctx, task.Name, task.Index)
		start := time.Now()
		err := r.runTask(taskCtx, task)
		duration := time.Since(start)
		tracer.EndCleanupSpan(span, err)

		r.logger.CleanupTaskResult(task.Name, duration, err)
		results = append(results, TaskResult{
			Name:     task.Name,
			Index:    task.Index,
			Duration: duration,
			Err:      err,
		})
	}
	return results
}

func (r *CleanupRegistry) runTask(ctx context.Context, task CleanupTask) (err error) {
	if r.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.taskTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = dkerrors.CleanupFailed(task.Name, dkerrors.RecoverPanic(rec))
		}
	}()

	if cerr := task.Action.Cleanup(ctx); cerr != nil {
		return dkerrors.CleanupFailed(task.Name, cerr)
	}
	return nil
}
