package announce

import (
	"testing"
	"time"

	"github.com/vinayprograms/drainkit/bus"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

func newCoordinator() *shutdown.Coordinator {
	return shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout: time.Second,
		PollInterval:   10 * time.Millisecond,
		Logger:         logging.Nop(),
	})
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	e := NewEvent("api-1", "orders", shutdown.Transition{
		From:     shutdown.StateRunning,
		To:       shutdown.StateDraining,
		At:       at,
		InFlight: 4,
		Trigger:  "signal:terminated",
	})

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	parsed, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent error: %v", err)
	}
	if parsed.From != "running" || parsed.To != "draining" {
		t.Errorf("unexpected states %s→%s", parsed.From, parsed.To)
	}
	if parsed.InFlight != 4 || parsed.Instance != "api-1" || parsed.Service != "orders" {
		t.Errorf("unexpected event %+v", parsed)
	}
	if !parsed.At.Equal(at) {
		t.Errorf("At = %v, want %v", parsed.At, at)
	}
}

func TestUnmarshalEvent_Invalid(t *testing.T) {
	if _, err := UnmarshalEvent([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestBusAnnouncer_Validate(t *testing.T) {
	if _, err := NewBusAnnouncer(BusAnnouncerConfig{Instance: "x"}); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig without bus, got %v", err)
	}
	if _, err := NewBusAnnouncer(BusAnnouncerConfig{Bus: bus.NewMemoryBus(bus.DefaultConfig())}); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig without instance, got %v", err)
	}
}

// TestBusAnnouncer_PublishesTransitionsInOrder wires the announcer to a real
// coordinator.
func TestBusAnnouncer_PublishesTransitionsInOrder(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	a, err := NewBusAnnouncer(BusAnnouncerConfig{Bus: b, Instance: "api-1", Service: "orders"})
	if err != nil {
		t.Fatalf("NewBusAnnouncer error: %v", err)
	}
	if a.Subject() != "lifecycle.api-1" {
		t.Fatalf("Subject = %q", a.Subject())
	}

	sub, err := b.Subscribe(a.Subject())
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	c := newCoordinator()
	c.AddObserver(a)
	c.BeginShutdownFrom("test", time.Second)

	want := []string{"draining", "cleaning_up", "stopped"}
	for i, w := range want {
		select {
		case msg := <-sub.Messages():
			e, err := UnmarshalEvent(msg.Data)
			if err != nil {
				t.Fatalf("event %d: %v", i, err)
			}
			if e.To != w {
				t.Errorf("event %d: To = %q, want %q", i, e.To, w)
			}
			if e.Trigger != "test" {
				t.Errorf("event %d: Trigger = %q", i, e.Trigger)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

// TestBusAnnouncer_ClosedBusDoesNotBreakShutdown verifies publish failures
// are swallowed.
func TestBusAnnouncer_ClosedBusDoesNotBreakShutdown(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	b.Close()

	a, _ := NewBusAnnouncer(BusAnnouncerConfig{Bus: b, Instance: "api-1"})
	c := newCoordinator()
	c.AddObserver(a)

	outcome := c.BeginShutdown(time.Second)
	if outcome == nil || outcome.State != shutdown.OutcomeComplete {
		t.Fatalf("expected complete outcome, got %+v", outcome)
	}
}
