package status

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements Store using a NATS JetStream KV bucket keyed by
// instance id.
type NATSStore struct {
	kv      jetstream.KeyValue
	config  NATSStoreConfig
	closed  atomic.Bool
	done    chan struct{}
	timeout time.Duration
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	// Default: "drainkit-status"
	Bucket string

	// TTL expires records that are not rewritten. 0 keeps them forever.
	TTL time.Duration

	// OpTimeout bounds each KV operation.
	// Default: 5 seconds
	OpTimeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:    "drainkit-status",
		TTL:       time.Minute,
		OpTimeout: 5 * time.Second,
	}
}

// NewNATSStore creates or binds the KV bucket.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSStoreConfig().Bucket
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultNATSStoreConfig().OpTimeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		TTL:     cfg.TTL,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		kv:      kv,
		config:  cfg,
		done:    make(chan struct{}),
		timeout: cfg.OpTimeout,
	}, nil
}

// Put replaces the record for rec.Instance.
func (s *NATSStore) Put(rec *Record) error {
	if err := ValidateInstance(rec.Instance); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := rec.Marshal()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.kv.Put(ctx, rec.Instance, data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Get returns the record for an instance.
func (s *NATSStore) Get(instance string) (*Record, error) {
	if err := ValidateInstance(instance); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	entry, err := s.kv.Get(ctx, instance)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}
	return UnmarshalRecord(entry.Value())
}

// List returns every live record.
func (s *NATSStore) List() ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.timeout)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}

	var recs []*Record
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			// Deleted or expired between list and get.
			continue
		}
		rec, err := UnmarshalRecord(entry.Value())
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Delete removes an instance's record.
func (s *NATSStore) Delete(instance string) error {
	if err := ValidateInstance(instance); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.kv.Delete(ctx, instance); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Watch streams records as they are written.
func (s *NATSStore) Watch(ctx context.Context) (<-chan *Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	watcher, err := s.kv.WatchAll(ctx, jetstream.IgnoreDeletes(), jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("kv watch: %w", err)
	}

	ch := make(chan *Record, 64)
	go s.watchLoop(ctx, watcher, ch)
	return ch, nil
}

func (s *NATSStore) watchLoop(ctx context.Context, watcher jetstream.KeyWatcher, ch chan *Record) {
	defer close(ch)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			rec, err := UnmarshalRecord(entry.Value())
			if err != nil {
				continue
			}
			select {
			case ch <- rec:
			default:
				// Channel full
			}
		}
	}
}

// Close stops every watch. The NATS connection belongs to the caller.
func (s *NATSStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}
