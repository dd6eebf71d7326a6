package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/vinayprograms/drainkit/logging"
)

// SignalListener turns process signals into a single shutdown trigger.
// The runtime only enqueues signals onto a buffered channel; a goroutine
// consumes them and starts shutdown on another goroutine, so no work happens
// in the signal delivery path.
type SignalListener struct {
	starter Starter
	timeout time.Duration
	logger  *logging.Logger

	mu      sync.Mutex
	started bool
	fired   bool
	ch      chan os.Signal
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewSignalListener creates a listener that calls s.BeginShutdownFrom with
// timeout on the first shutdown signal.
func NewSignalListener(s Starter, timeout time.Duration, logger *logging.Logger) *SignalListener {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SignalListener{
		starter: s,
		timeout: timeout,
		logger:  logger.WithComponent("signals"),
		ch:      make(chan os.Signal, 4),
	}
}

// Signals returns the signals the listener subscribes to.
func (l *SignalListener) Signals() []os.Signal {
	return shutdownSignals()
}

// Start installs the signal subscription. Calling it again is a no-op.
func (l *SignalListener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.stop = make(chan struct{})

	signal.Notify(l.ch, shutdownSignals()...)
	l.wg.Add(1)
	go l.loop(l.stop)
}

// Stop removes the subscription and waits for the consumer goroutine.
// A shutdown already started by a signal keeps running.
func (l *SignalListener) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	signal.Stop(l.ch)
	close(l.stop)
	l.mu.Unlock()

	l.wg.Wait()
}

// Inject delivers sig as if it came from the operating system. The listener
// must be started.
func (l *SignalListener) Inject(sig os.Signal) {
	select {
	case l.ch <- sig:
	default:
		l.logger.Warn("signal_dropped", logging.Fields{"signal": sig.String()})
	}
}

func (l *SignalListener) loop(stop <-chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case <-stop:
			return
		case sig := <-l.ch:
			l.handle(sig)
		}
	}
}

func (l *SignalListener) handle(sig os.Signal) {
	source := "signal:" + sig.String()
	if l.fired {
		l.logger.Debug("signal_redundant", logging.Fields{"signal": sig.String()})
		return
	}
	l.fired = true

	l.logger.Info("signal_received", logging.Fields{"signal": sig.String()})
	go l.starter.BeginShutdownFrom(source, l.timeout)
}
