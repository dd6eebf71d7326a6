// Package trigger starts shutdown from sources other than process signals.
//
// FileTrigger watches a sentinel path. Orchestrators that cannot deliver
// signals (or that want to drain before sending one) create the file, for
// example from a preStop hook:
//
//	touch /var/run/drainkit/drain
package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/drainkit/logging"
)

// Target receives the trigger. *shutdown.Coordinator implements it.
type Target interface {
	Trigger(source string)
}

// beforeWatch runs after the initial existence check and before the watch
// is installed. Tests use it to create the sentinel in that window.
var beforeWatch = func(path string) {}

// FileTrigger fires Target.Trigger("file:<path>") once when the sentinel
// file exists. It uses fsnotify on the parent directory and falls back to
// polling when fsnotify is unavailable.
type FileTrigger struct {
	path         string
	target       Target
	logger       *logging.Logger
	pollInterval time.Duration

	fsw     *fsnotify.Watcher
	polling atomic.Bool
	fired   atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Config configures a FileTrigger.
type Config struct {
	// Path of the sentinel file.
	Path string

	// PollInterval is used when fsnotify is unavailable.
	// Default: 1 second
	PollInterval time.Duration

	// Logger receives watcher events.
	Logger *logging.Logger
}

// NewFileTrigger starts watching cfg.Path. A sentinel that already exists
// fires immediately.
func NewFileTrigger(cfg Config, target Target) (*FileTrigger, error) {
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	t := &FileTrigger{
		path:         path,
		target:       target,
		logger:       logger.WithComponent("trigger"),
		pollInterval: cfg.PollInterval,
		done:         make(chan struct{}),
	}

	if t.exists() {
		t.fire()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Info("fsnotify unavailable, falling back to polling", logging.Fields{"error": err.Error()})
		t.startPolling()
		return t, nil
	}
	beforeWatch(path)
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		t.logger.Info("cannot watch directory, falling back to polling", logging.Fields{
			"path":  filepath.Dir(path),
			"error": err.Error(),
		})
		fsw.Close()
		t.startPolling()
		return t, nil
	}

	// A sentinel created before the watch was in place produces no event.
	if t.exists() {
		t.fire()
	}

	t.fsw = fsw
	t.wg.Add(1)
	go t.watch()
	return t, nil
}

// Path returns the absolute sentinel path.
func (t *FileTrigger) Path() string {
	return t.path
}

// Polling reports whether the trigger is using polling instead of fsnotify.
func (t *FileTrigger) Polling() bool {
	return t.polling.Load()
}

// Fired reports whether the trigger has fired.
func (t *FileTrigger) Fired() bool {
	return t.fired.Load()
}

func (t *FileTrigger) watch() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case event, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			if event.Name == t.path && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				t.fire()
			}
		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			t.logger.Info("fsnotify error, switching to polling", logging.Fields{"error": err.Error()})
			t.fsw.Close()
			t.startPolling()
			return
		}
	}
}

func (t *FileTrigger) startPolling() {
	t.polling.Store(true)
	t.wg.Add(1)
	go t.poll()
}

func (t *FileTrigger) poll() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if t.exists() {
				t.fire()
			}
		}
	}
}

func (t *FileTrigger) exists() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

func (t *FileTrigger) fire() {
	if t.fired.Swap(true) {
		return
	}
	t.logger.Info("sentinel_detected", logging.Fields{"path": t.path})
	t.target.Trigger("file:" + t.path)
}

// Close stops watching.
func (t *FileTrigger) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		if t.fsw != nil && !t.polling.Load() {
			err = t.fsw.Close()
		}
		t.wg.Wait()
	})
	return err
}

// Cleanup implements shutdown.Cleaner.
func (t *FileTrigger) Cleanup(ctx context.Context) error {
	return t.Close()
}
