package logging

import "time"

// --- Shutdown lifecycle events ---
// Called by the shutdown coordinator at each step so the console shows the
// exit sequence as it happens.

// ShutdownBegin logs the winning shutdown trigger.
func (l *Logger) ShutdownBegin(trigger string, timeout time.Duration, inFlight int64) {
	l.Info("shutdown_begin", Fields{
		"trigger":   trigger,
		"timeout":   timeout.String(),
		"in_flight": inFlight,
	})
}

// RedundantTrigger logs a shutdown request that arrived after shutdown
// already started.
func (l *Logger) RedundantTrigger(trigger, state string) {
	l.Debug("shutdown_redundant_trigger", Fields{
		"trigger": trigger,
		"state":   state,
	})
}

// StateTransition logs a coordinator state change.
func (l *Logger) StateTransition(from, to string, inFlight int64) {
	l.Info("state_transition", Fields{
		"from":      from,
		"to":        to,
		"in_flight": inFlight,
	})
}

// DrainComplete logs the result of the drain window.
func (l *Logger) DrainComplete(drained bool, stragglers int64, waited time.Duration) {
	fields := Fields{
		"drained":    drained,
		"stragglers": stragglers,
		"waited":     waited.String(),
	}
	if drained {
		l.Info("drain_complete", fields)
		return
	}
	l.Warn("drain_timeout", fields)
}

// CleanupTaskResult logs the outcome of one cleanup task.
func (l *Logger) CleanupTaskResult(name string, duration time.Duration, err error) {
	fields := Fields{
		"task":     name,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("cleanup_task_failed", fields)
		return
	}
	l.Info("cleanup_task_done", fields)
}

// ShutdownComplete logs the final outcome of the exit sequence.
func (l *Logger) ShutdownComplete(status string, failed int, duration time.Duration) {
	fields := Fields{
		"outcome":      status,
		"failed_tasks": failed,
		"duration":     duration.String(),
	}
	if failed > 0 {
		l.Warn("shutdown_complete", fields)
		return
	}
	l.Info("shutdown_complete", fields)
}

// RequestRejected logs a request turned away at admission.
func (l *Logger) RequestRejected(method, path, requestID string) {
	l.Warn("request_rejected", Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})
}
