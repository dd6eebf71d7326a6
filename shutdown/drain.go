package shutdown

import (
	"time"
)

// DrainResult is the outcome of a drain wait.
type DrainResult struct {
	Drained    bool
	Stragglers int64
	Waited     time.Duration
}

// DrainController waits for in-flight requests to finish.
type DrainController struct {
	tracker      *RequestTracker
	pollInterval time.Duration
}

// NewDrainController creates a drain controller over tracker. The poll
// interval is the fallback re-check period used in case a wake-up is missed.
func NewDrainController(tracker *RequestTracker, pollInterval time.Duration) *DrainController {
	if pollInterval <= 0 {
		pollInterval = DefaultConfig().PollInterval
	}
	return &DrainController{tracker: tracker, pollInterval: pollInterval}
}

// WaitForDrain blocks until the in-flight count is zero or timeout elapses.
// Reaching the timeout is not an error; requests still running are reported
// as stragglers and left to finish on their own.
func (d *DrainController) WaitForDrain(timeout time.Duration) DrainResult {
	start := time.Now()
	result := func() DrainResult {
		n := d.tracker.Count()
		return DrainResult{Drained: n == 0, Stragglers: n, Waited: time.Since(start)}
	}

	if d.tracker.Count() == 0 {
		return result()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.tracker.drained():
		case <-ticker.C:
		case <-deadline.C:
			return result()
		}
		if d.tracker.Count() == 0 {
			return result()
		}
	}
}
