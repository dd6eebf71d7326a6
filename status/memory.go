package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements Store in process memory.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	ttl time.Duration

	mu       sync.RWMutex
	data     map[string]*memoryEntry
	watchers map[*memoryWatcher]struct{}
	closed   atomic.Bool
	done     chan struct{}
}

type memoryEntry struct {
	rec     Record
	expires time.Time // Zero means no expiry
}

type memoryWatcher struct {
	ch   chan *Record
	once sync.Once
}

func (w *memoryWatcher) close() {
	w.once.Do(func() { close(w.ch) })
}

// NewMemoryStore creates an in-memory store. Records expire ttl after
// their last write; a zero ttl keeps them forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		data:     make(map[string]*memoryEntry),
		watchers: make(map[*memoryWatcher]struct{}),
		done:     make(chan struct{}),
	}
}

// Put replaces the record for rec.Instance.
func (s *MemoryStore) Put(rec *Record) error {
	if err := ValidateInstance(rec.Instance); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	e := &memoryEntry{rec: *rec}
	if s.ttl > 0 {
		e.expires = time.Now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.Instance] = e
	for w := range s.watchers {
		cp := e.rec
		select {
		case w.ch <- &cp:
		default:
			// Watcher full
		}
	}
	return nil
}

// Get returns the record for an instance.
func (s *MemoryStore) Get(instance string) (*Record, error) {
	if err := ValidateInstance(instance); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[instance]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	cp := e.rec
	return &cp, nil
}

// List returns every live record.
func (s *MemoryStore) List() ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]*Record, 0, len(s.data))
	for key, e := range s.data {
		if e.expired(now) {
			delete(s.data, key)
			continue
		}
		cp := e.rec
		recs = append(recs, &cp)
	}
	return recs, nil
}

// Delete removes an instance's record.
func (s *MemoryStore) Delete(instance string) error {
	if err := ValidateInstance(instance); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	delete(s.data, instance)
	s.mu.Unlock()
	return nil
}

// Watch streams records as they are written.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan *Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := &memoryWatcher{ch: make(chan *Record, 64)}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		if _, ok := s.watchers[w]; ok {
			delete(s.watchers, w)
			w.close()
		}
		s.mu.Unlock()
	}()

	return w.ch, nil
}

// Close shuts down the store and ends every watch.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		w.close()
		delete(s.watchers, w)
	}
	return nil
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}
