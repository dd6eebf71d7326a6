package shutdown

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/drainkit/logging"
)

type recordingStarter struct {
	mu       sync.Mutex
	triggers []string
	timeouts []time.Duration
	called   chan struct{}
	release  chan struct{}
}

func newRecordingStarter() *recordingStarter {
	return &recordingStarter{called: make(chan struct{}, 8)}
}

func (r *recordingStarter) BeginShutdownFrom(trigger string, timeout time.Duration) *Outcome {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.timeouts = append(r.timeouts, timeout)
	r.mu.Unlock()
	r.called <- struct{}{}
	if r.release != nil {
		<-r.release
	}
	return &Outcome{Trigger: trigger}
}

func (r *recordingStarter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.triggers...)
}

// TestShutdownSignalsIncludeInterrupt verifies the cross-platform signal.
func TestShutdownSignalsIncludeInterrupt(t *testing.T) {
	found := false
	for _, s := range shutdownSignals() {
		if s == os.Interrupt {
			found = true
		}
	}
	if !found {
		t.Fatal("expected os.Interrupt in shutdown signals")
	}
}

// TestSignalListenerTriggersOnce verifies later signals are redundant.
func TestSignalListenerTriggersOnce(t *testing.T) {
	rs := newRecordingStarter()
	l := NewSignalListener(rs, 7*time.Second, logging.Nop())
	l.Start()
	defer l.Stop()

	l.Inject(os.Interrupt)
	l.Inject(os.Interrupt)
	l.Inject(os.Interrupt)

	select {
	case <-rs.called:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to be triggered")
	}

	// Give redundant signals time to be consumed.
	time.Sleep(50 * time.Millisecond)

	got := rs.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected one trigger, got %v", got)
	}
	if got[0] != "signal:interrupt" {
		t.Errorf("unexpected trigger source %q", got[0])
	}
	if rs.timeouts[0] != 7*time.Second {
		t.Errorf("expected configured timeout, got %v", rs.timeouts[0])
	}
}

// TestSignalListenerStartIdempotent verifies a second Start is a no-op.
func TestSignalListenerStartIdempotent(t *testing.T) {
	rs := newRecordingStarter()
	l := NewSignalListener(rs, time.Second, nil)
	l.Start()
	l.Start()
	l.Stop()
	l.Stop()
}

// TestSignalListenerDrivesCoordinator runs the full sequence from a signal.
func TestSignalListenerDrivesCoordinator(t *testing.T) {
	c, _ := newTestCoordinator(t)
	l := NewSignalListener(c, time.Second, logging.Nop())
	l.Start()
	defer l.Stop()

	l.Inject(os.Interrupt)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	if got := c.Outcome().Trigger; got != "signal:interrupt" {
		t.Fatalf("unexpected trigger %q", got)
	}
}

var _ Starter = (*Coordinator)(nil)

// TestSignalListenerDoesNotWaitForShutdown verifies a blocking Starter does
// not stall the listener.
func TestSignalListenerDoesNotWaitForShutdown(t *testing.T) {
	rs := newRecordingStarter()
	rs.release = make(chan struct{})
	defer close(rs.release)

	l := NewSignalListener(rs, time.Second, logging.Nop())
	l.Start()

	l.Inject(os.Interrupt)
	select {
	case <-rs.called:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to be started")
	}

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("listener blocked on a running shutdown")
	}
}
