package bus

import (
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Subject prefixes for lifecycle traffic.
const (
	// DefaultLifecyclePrefix carries state transitions, one subject per
	// instance: lifecycle.<instance>.
	DefaultLifecyclePrefix = "lifecycle"

	// HeartbeatPrefix carries periodic liveness: heartbeat.<instance>.
	HeartbeatPrefix = "heartbeat"
)

// LifecycleSubject returns the subject an instance announces transitions on.
// An empty prefix selects DefaultLifecyclePrefix.
func LifecycleSubject(prefix, instance string) string {
	if prefix == "" {
		prefix = DefaultLifecyclePrefix
	}
	return prefix + "." + instance
}

// HeartbeatSubject returns the subject an instance sends heartbeats on.
func HeartbeatSubject(instance string) string {
	return HeartbeatPrefix + "." + instance
}

// AllInstances returns the pattern a router subscribes to in order to see
// every instance under prefix.
func AllInstances(prefix string) string {
	if prefix == "" {
		prefix = DefaultLifecyclePrefix
	}
	return prefix + ".*"
}

// Message is a message received from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// MessageBus provides pub/sub messaging.
type MessageBus interface {
	// Publish sends data to every subscription whose pattern matches
	// subject. Wildcards are not allowed in subject.
	Publish(subject string, data []byte) error

	// Subscribe receives messages matching pattern. A "*" token matches
	// one subject token and a trailing ">" matches one or more.
	Subscribe(pattern string) (Subscription, error)

	// Close shuts the bus down immediately. Undelivered messages are lost.
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize of each subscription channel.
	BufferSize int

	// MaxPending caps messages queued behind a full subscription channel.
	// Messages beyond it are dropped.
	MaxPending int

	// DrainTimeout bounds how long Cleanup waits for pending messages to
	// reach subscribers.
	DrainTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:   256,
		MaxPending:   1024,
		DrainTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// ValidateSubject checks a concrete subject for publishing.
func ValidateSubject(subject string) error {
	return validate(subject, false)
}

// ValidatePattern checks a subscription pattern.
func ValidatePattern(pattern string) error {
	return validate(pattern, true)
}

func validate(s string, wildcards bool) error {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return ErrInvalidSubject
	}
	toks := strings.Split(s, ".")
	for i, tok := range toks {
		switch {
		case tok == "":
			return ErrInvalidSubject
		case tok == "*":
			if !wildcards {
				return ErrInvalidSubject
			}
		case tok == ">":
			if !wildcards || i != len(toks)-1 {
				return ErrInvalidSubject
			}
		case strings.ContainsAny(tok, "*>"):
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether subject matches pattern. Both are assumed
// valid.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
