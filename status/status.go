// Package status keeps a shared record of every instance's lifecycle state.
//
// Each process writes its own Record on every state transition through a
// Recorder, which is a shutdown.Observer. Routers, deploy tooling, or other
// instances read the records to see who is running, draining, or gone.
//
// # Backends
//
//   - NATSStore: NATS JetStream KV bucket shared by the fleet
//   - MemoryStore: single process and tests
//
// Entries expire after a TTL, so a process that dies without finishing its
// shutdown sequence disappears from the listing on its own.
//
//	nb, _ := bus.NewNATSBus(bus.NATSConfig{URL: "nats://localhost:4222"})
//	store, _ := status.NewNATSStore(status.NATSStoreConfig{
//	    Conn:   nb.Conn(),
//	    Bucket: "drainkit-status",
//	    TTL:    time.Minute,
//	})
//	rec, _ := status.NewRecorder(status.RecorderConfig{Store: store, Instance: id})
//	coord.AddObserver(rec)
package status

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound        = errors.New("instance not found")
	ErrClosed          = errors.New("store closed")
	ErrInvalidInstance = errors.New("invalid instance id")
)

// Record is one instance's last reported lifecycle state.
type Record struct {
	Instance string    `json:"instance"`
	Service  string    `json:"service,omitempty"`
	State    string    `json:"state"`
	InFlight int64     `json:"in_flight"`
	Trigger  string    `json:"trigger,omitempty"`
	Updated  time.Time `json:"updated"`
}

// Marshal serializes the record to JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord deserializes a record from JSON.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Store holds the latest Record per instance.
type Store interface {
	// Put replaces the record for rec.Instance.
	Put(rec *Record) error

	// Get returns the record for an instance.
	// Returns ErrNotFound if there is none or it expired.
	Get(instance string) (*Record, error)

	// List returns every live record, in no particular order.
	List() ([]*Record, error)

	// Delete removes an instance's record. Missing records are not an error.
	Delete(instance string) error

	// Watch streams records as they are written. The channel is closed
	// when ctx is done or the store closes. Slow readers miss updates.
	Watch(ctx context.Context) (<-chan *Record, error)

	// Close releases the store.
	Close() error
}

// ValidateInstance checks that id can be used as a KV key.
func ValidateInstance(id string) error {
	if id == "" || len(id) > 256 {
		return ErrInvalidInstance
	}
	if strings.ContainsAny(id, " *>") {
		return ErrInvalidInstance
	}
	if strings.HasPrefix(id, ".") || strings.HasSuffix(id, ".") {
		return ErrInvalidInstance
	}
	return nil
}
