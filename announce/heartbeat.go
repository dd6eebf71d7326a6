package announce

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/drainkit/bus"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// StatusSource is the read side of the coordinator.
type StatusSource interface {
	State() shutdown.State
	InFlight() int64
}

// Beat is a single heartbeat message.
type Beat struct {
	// Instance uniquely identifies the sending process.
	Instance string `json:"instance"`

	// Timestamp when the heartbeat was generated.
	Timestamp time.Time `json:"timestamp"`

	// Status is the coordinator state ("running", "draining", ...).
	Status string `json:"status"`

	// InFlight is the number of admitted requests still running.
	InFlight int64 `json:"in_flight"`

	// Final is set on the last heartbeat sent by Stop.
	Final bool `json:"final,omitempty"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (b *Beat) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBeat deserializes a heartbeat from JSON.
func UnmarshalBeat(data []byte) (*Beat, error) {
	var b Beat
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Subject returns the subject for this heartbeat.
func (b *Beat) Subject() string {
	return bus.HeartbeatSubject(b.Instance)
}

// HeartbeatConfig configures a Heartbeat.
type HeartbeatConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// Source supplies state and in-flight count for each beat.
	Source StatusSource

	// Instance is the unique identifier for this process.
	Instance string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// Logger receives publish failures.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *HeartbeatConfig) Validate() error {
	if c.Bus == nil || c.Source == nil || c.Instance == "" {
		return ErrInvalidConfig
	}
	return nil
}

// Heartbeat publishes the coordinator's state periodically. It also sends
// an immediate beat on every transition, and a final beat from Stop.
// Register it as a cleanup task so the final beat goes out during
// CLEANING_UP, before the bus is closed.
type Heartbeat struct {
	bus      bus.MessageBus
	source   StatusSource
	instance string
	interval time.Duration
	logger   *logging.Logger

	mu       sync.RWMutex
	metadata map[string]string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHeartbeat creates a heartbeat publisher.
func NewHeartbeat(cfg HeartbeatConfig) (*Heartbeat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Heartbeat{
		bus:      cfg.Bus,
		source:   cfg.Source,
		instance: cfg.Instance,
		interval: interval,
		logger:   logger.WithComponent("heartbeat"),
		metadata: make(map[string]string),
	}, nil
}

// Start begins sending heartbeats at the configured interval.
func (h *Heartbeat) Start(ctx context.Context) error {
	if h.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.run(ctx)
	return nil
}

// run is the main heartbeat loop.
func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.doneCh)

	// Send initial heartbeat immediately
	h.send(false)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send(false)
		}
	}
}

// send publishes a heartbeat message.
func (h *Heartbeat) send(final bool) {
	beat := h.build(final)
	data, err := beat.Marshal()
	if err == nil {
		err = h.bus.Publish(beat.Subject(), data)
	}
	if err != nil {
		h.logger.Warn("heartbeat_failed", logging.Fields{"error": err.Error()})
	}
}

// build creates a heartbeat with current state.
func (h *Heartbeat) build(final bool) *Beat {
	h.mu.RLock()
	defer h.mu.RUnlock()

	beat := &Beat{
		Instance:  h.instance,
		Timestamp: time.Now(),
		Status:    h.source.State().String(),
		InFlight:  h.source.InFlight(),
		Final:     final,
	}

	if len(h.metadata) > 0 {
		beat.Metadata = make(map[string]string, len(h.metadata))
		for k, v := range h.metadata {
			beat.Metadata[k] = v
		}
	}

	return beat
}

// SetMetadata updates a metadata field.
func (h *Heartbeat) SetMetadata(key, value string) {
	h.mu.Lock()
	h.metadata[key] = value
	h.mu.Unlock()
}

// OnTransition implements shutdown.Observer: peers learn about the state
// change without waiting for the next tick.
func (h *Heartbeat) OnTransition(t shutdown.Transition) {
	if h.running.Load() {
		h.send(false)
	}
}

// Stop stops the loop and publishes a final heartbeat.
func (h *Heartbeat) Stop() error {
	if !h.running.Swap(false) {
		return ErrNotStarted
	}
	close(h.stopCh)
	<-h.doneCh
	h.send(true)
	return nil
}

// Cleanup implements shutdown.Cleaner.
func (h *Heartbeat) Cleanup(ctx context.Context) error {
	if err := h.Stop(); err != nil && err != ErrNotStarted {
		return err
	}
	return nil
}
