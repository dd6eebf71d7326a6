// Package announce tells the outside world about lifecycle changes.
//
// Readiness probes are polled, so a router can keep sending work for a
// whole probe period after draining starts. The announcers here push each
// state transition as it happens: onto the message bus for peers and
// routers, and to an HTTP hook for load balancers. Heartbeat publishes the
// current state and in-flight count periodically.
package announce

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/drainkit/shutdown"
)

// Common errors.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
)

// Event is the wire form of a shutdown.Transition.
type Event struct {
	// Instance identifies the process that changed state.
	Instance string `json:"instance"`

	// Service is the logical service name.
	Service string `json:"service,omitempty"`

	From     string    `json:"from"`
	To       string    `json:"to"`
	At       time.Time `json:"at"`
	InFlight int64     `json:"in_flight"`
	Trigger  string    `json:"trigger,omitempty"`
}

// NewEvent builds an Event from a transition.
func NewEvent(instance, service string, t shutdown.Transition) *Event {
	return &Event{
		Instance: instance,
		Service:  service,
		From:     t.From.String(),
		To:       t.To.String(),
		At:       t.At,
		InFlight: t.InFlight,
		Trigger:  t.Trigger,
	}
}

// Marshal serializes an event to JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
