package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// Source is the read side of the coordinator.
type Source interface {
	State() shutdown.State
	InFlight() int64
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Store receives the records.
	Store Store

	// Instance and Service identify this process.
	Instance string
	Service  string

	// Logger receives write failures.
	Logger *logging.Logger
}

// Recorder writes this instance's Record on every state transition.
// It implements shutdown.Observer.
type Recorder struct {
	store    Store
	instance string
	service  string
	logger   *logging.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, errors.New("status store required")
	}
	if err := ValidateInstance(cfg.Instance); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Recorder{
		store:    cfg.Store,
		instance: cfg.Instance,
		service:  cfg.Service,
		logger:   logger.WithComponent("status"),
	}, nil
}

// Register writes the initial record from src, normally at startup.
func (r *Recorder) Register(src Source) error {
	return r.store.Put(&Record{
		Instance: r.instance,
		Service:  r.service,
		State:    src.State().String(),
		InFlight: src.InFlight(),
		Updated:  time.Now(),
	})
}

// OnTransition implements shutdown.Observer. Records written after the
// store's connection is released are dropped with a warning.
func (r *Recorder) OnTransition(t shutdown.Transition) {
	err := r.store.Put(&Record{
		Instance: r.instance,
		Service:  r.service,
		State:    t.To.String(),
		InFlight: t.InFlight,
		Trigger:  t.Trigger,
		Updated:  t.At,
	})
	if err != nil {
		r.logger.Warn("status_write_failed", logging.Fields{
			"to":    t.To.String(),
			"error": err.Error(),
		})
	}
}

// Handler lists every live record as JSON, sorted by instance id.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		recs, err := store.List()
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck
			return
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].Instance < recs[j].Instance })
		if recs == nil {
			recs = []*Record{}
		}
		json.NewEncoder(w).Encode(map[string]any{"instances": recs}) //nolint:errcheck
	})
}
