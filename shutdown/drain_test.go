package shutdown

import (
	"testing"
	"time"

	"github.com/vinayprograms/drainkit/logging"
)

func newTestTracker() *RequestTracker {
	return newRequestTracker(&gate{}, logging.Nop())
}

// TestWaitForDrainImmediate verifies no wait when nothing is in flight.
func TestWaitForDrainImmediate(t *testing.T) {
	d := NewDrainController(newTestTracker(), time.Hour)

	start := time.Now()
	res := d.WaitForDrain(10 * time.Second)

	if !res.Drained || res.Stragglers != 0 {
		t.Fatalf("expected drained with 0 stragglers, got %+v", res)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected immediate return")
	}
}

// TestWaitForDrainWakesOnZero verifies the zero token wakes the waiter well
// before the poll interval.
func TestWaitForDrainWakesOnZero(t *testing.T) {
	tracker := newTestTracker()
	d := NewDrainController(tracker, time.Hour)

	tracker.Start()
	tracker.Start()
	go func() {
		time.Sleep(10 * time.Millisecond)
		tracker.Complete()
		time.Sleep(10 * time.Millisecond)
		tracker.Complete()
	}()

	start := time.Now()
	res := d.WaitForDrain(10 * time.Second)

	if !res.Drained {
		t.Fatalf("expected drained, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected wake-up on zero, waited %v", elapsed)
	}
}

// TestWaitForDrainPollFallback verifies a missed wake-up is caught by the
// periodic re-check.
func TestWaitForDrainPollFallback(t *testing.T) {
	g := &gate{}
	tracker := newRequestTracker(g, logging.Nop())
	d := NewDrainController(tracker, 10*time.Millisecond)

	g.admit()
	go func() {
		time.Sleep(20 * time.Millisecond)
		// Release without posting the wake token.
		g.release()
	}()

	res := d.WaitForDrain(5 * time.Second)
	if !res.Drained {
		t.Fatalf("expected the poll fallback to notice the drain, got %+v", res)
	}
	if res.Waited > 2*time.Second {
		t.Fatalf("poll fallback too slow: %v", res.Waited)
	}
}

// TestWaitForDrainTimeoutReportsStragglers verifies the exact count at expiry.
func TestWaitForDrainTimeoutReportsStragglers(t *testing.T) {
	tracker := newTestTracker()
	d := NewDrainController(tracker, 5*time.Millisecond)

	for i := 0; i < 4; i++ {
		tracker.Start()
	}
	tracker.Complete()

	res := d.WaitForDrain(30 * time.Millisecond)

	if res.Drained {
		t.Fatal("expected timeout")
	}
	if res.Stragglers != 3 {
		t.Fatalf("expected 3 stragglers, got %d", res.Stragglers)
	}
	if res.Waited < 30*time.Millisecond {
		t.Fatalf("returned before the timeout: %v", res.Waited)
	}
}

// TestWaitForDrainIgnoresStaleToken verifies a token left from an earlier
// drain does not end the wait early.
func TestWaitForDrainIgnoresStaleToken(t *testing.T) {
	tracker := newTestTracker()
	d := NewDrainController(tracker, time.Hour)

	tracker.Start()
	tracker.Complete() // posts a token
	tracker.Start()

	res := d.WaitForDrain(30 * time.Millisecond)
	if res.Drained || res.Stragglers != 1 {
		t.Fatalf("expected 1 straggler, got %+v", res)
	}
}
