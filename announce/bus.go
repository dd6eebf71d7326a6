package announce

import (
	"github.com/vinayprograms/drainkit/bus"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// BusAnnouncerConfig configures a BusAnnouncer.
type BusAnnouncerConfig struct {
	// Bus is the message bus for publishing events.
	Bus bus.MessageBus

	// Instance is the unique identifier for this process.
	Instance string

	// Service is the logical service name.
	Service string

	// SubjectPrefix is prepended to the instance id.
	// Default: bus.DefaultLifecyclePrefix
	SubjectPrefix string

	// Logger receives publish failures.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *BusAnnouncerConfig) Validate() error {
	if c.Bus == nil || c.Instance == "" {
		return ErrInvalidConfig
	}
	return nil
}

// BusAnnouncer publishes every state transition to <prefix>.<instance>.
// It implements shutdown.Observer.
type BusAnnouncer struct {
	bus      bus.MessageBus
	subject  string
	instance string
	service  string
	logger   *logging.Logger
}

// NewBusAnnouncer creates a bus announcer.
func NewBusAnnouncer(cfg BusAnnouncerConfig) (*BusAnnouncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	subject := bus.LifecycleSubject(cfg.SubjectPrefix, cfg.Instance)
	if err := bus.ValidateSubject(subject); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &BusAnnouncer{
		bus:      cfg.Bus,
		subject:  subject,
		instance: cfg.Instance,
		service:  cfg.Service,
		logger:   logger.WithComponent("announce"),
	}, nil
}

// Subject returns the subject events are published to.
func (a *BusAnnouncer) Subject() string {
	return a.subject
}

// OnTransition implements shutdown.Observer. Failures are logged and never
// interrupt the shutdown sequence.
func (a *BusAnnouncer) OnTransition(t shutdown.Transition) {
	data, err := NewEvent(a.instance, a.service, t).Marshal()
	if err == nil {
		err = a.bus.Publish(a.subject, data)
	}
	if err != nil {
		a.logger.Warn("announce_failed", logging.Fields{
			"subject": a.subject,
			"to":      t.To.String(),
			"error":   err.Error(),
		})
	}
}
