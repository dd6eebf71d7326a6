package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-process MessageBus. Each subscription has its own
// delivery goroutine, so a slow subscriber never blocks Publish.
//
// Cleanup behaves like a NATS drain: new publishes are refused, queued
// messages are handed to subscribers, then every subscription channel is
// closed. Close discards whatever is still queued.
type MemoryBus struct {
	config Config

	mu       sync.RWMutex
	subs     map[*memorySub]struct{}
	draining bool
	closed   atomic.Bool
	dropped  atomic.Int64
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	return &MemoryBus{
		config: cfg.withDefaults(),
		subs:   make(map[*memorySub]struct{}),
	}
}

// Publish queues data for every matching subscription. It returns ErrClosed
// once Cleanup or Close has begun.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.draining || b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}
	for sub := range b.subs {
		if MatchSubject(sub.pattern, subject) && !sub.enqueue(msg, b.config.MaxPending) {
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe starts a subscription on pattern.
func (b *MemoryBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining || b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: pattern,
		bus:     b,
		ch:      make(chan *Message, b.config.BufferSize),
		wake:    make(chan struct{}, 1),
		flush:   make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	go sub.deliver()
	return sub, nil
}

// Draining reports whether Cleanup has started.
func (b *MemoryBus) Draining() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.draining
}

// Dropped returns how many deliveries were discarded because a
// subscription's pending queue was full.
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops every subscription immediately.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	subs := b.detach()
	b.mu.Unlock()

	for _, s := range subs {
		s.halt()
		<-s.done
	}
	return nil
}

// Cleanup implements shutdown.Cleaner. Queued messages are delivered before
// subscription channels close, bounded by ctx and Config.DrainTimeout. What
// is still queued at the deadline is discarded and reported in the error.
func (b *MemoryBus) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	if b.draining || b.closed.Load() {
		b.mu.Unlock()
		return nil
	}
	b.draining = true
	subs := b.detach()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.config.DrainTimeout)
	defer cancel()

	for _, s := range subs {
		close(s.flush)
	}

	var err error
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
			s.halt()
			<-s.done
		}
	}
	b.closed.Store(true)

	if err != nil {
		var lost int
		for _, s := range subs {
			lost += s.lost
		}
		return fmt.Errorf("bus drain: %d messages undelivered: %w", lost, err)
	}
	return nil
}

// detach removes every subscription. Callers hold b.mu.
func (b *MemoryBus) detach() []*memorySub {
	subs := make([]*memorySub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*memorySub]struct{})
	return subs
}

type memorySub struct {
	pattern string
	bus     *MemoryBus
	ch      chan *Message

	mu    sync.Mutex
	queue []*Message
	lost  int // set by deliver when halted with messages queued

	wake     chan struct{}
	flush    chan struct{} // closed: exit once the queue is empty
	stop     chan struct{} // closed: exit now
	stopOnce sync.Once
	done     chan struct{}
}

func (s *memorySub) enqueue(msg *Message, limit int) bool {
	s.mu.Lock()
	if len(s.queue) >= limit {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *memorySub) next() (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	msg := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return msg, true
}

func (s *memorySub) deliver() {
	defer close(s.done)
	defer close(s.ch)

	for {
		msg, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.flush:
				if s.empty() {
					return
				}
				continue
			case <-s.stop:
				return
			}
		}
		select {
		case s.ch <- msg:
		case <-s.stop:
			s.mu.Lock()
			s.lost = len(s.queue) + 1
			s.mu.Unlock()
			return
		}
	}
}

func (s *memorySub) empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0
}

func (s *memorySub) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Messages returns the delivery channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe stops delivery. Queued messages are discarded.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.halt()
	<-s.done
	return nil
}

var _ MessageBus = (*MemoryBus)(nil)

