package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus is a MessageBus on a NATS connection. Lifecycle subjects and
// wildcard patterns map directly onto NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	closed chan struct{}

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL is the NATS server URL.
	URL string

	// Name identifies the connection on the server, usually the instance id.
	Name string

	// Token for token-based auth.
	Token string

	// ReconnectWait is the pause between reconnect attempts.
	ReconnectWait time.Duration

	// MaxReconnects caps reconnect attempts. -1 is unlimited.
	MaxReconnects int

	// ConnectTimeout bounds the initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to the server at cfg.URL.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	b := &NATSBus{
		config: cfg,
		closed: make(chan struct{}),
		subs:   make(map[*natsSubscription]struct{}),
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.ClosedHandler(func(*nats.Conn) { b.onClosed() }),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

// Publish sends data to subject. It returns ErrClosed once the connection
// is draining or closed.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.Draining() || b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe starts a subscription on pattern.
func (b *NATSBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if b.Draining() || b.conn.IsClosed() {
		return nil, ErrClosed
	}

	s := &natsSubscription{bus: b, ch: make(chan *Message, b.config.BufferSize)}
	sub, err := b.conn.Subscribe(pattern, s.receive)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	if err := sub.SetPendingLimits(b.config.MaxPending, -1); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	s.sub = sub

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Draining reports whether Cleanup has started.
func (b *NATSBus) Draining() bool {
	return b.conn.IsDraining()
}

// Close closes the connection immediately.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Cleanup implements shutdown.Cleaner. It drains the connection so queued
// publishes, such as the last lifecycle announcement, reach the server,
// then waits for the close, ctx, or Config.DrainTimeout.
func (b *NATSBus) Cleanup(ctx context.Context) error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}

	// The client enforces DrainTimeout itself; the extra second covers the
	// close callback.
	timer := time.NewTimer(b.config.DrainTimeout + time.Second)
	defer timer.Stop()

	select {
	case <-b.closed:
		return nil
	case <-timer.C:
		b.conn.Close()
		return fmt.Errorf("nats drain: %w", context.DeadlineExceeded)
	case <-ctx.Done():
		b.conn.Close()
		return ctx.Err()
	}
}

// Conn returns the underlying connection. The status store shares it.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

func (b *NATSBus) onClosed() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for s := range subs {
		s.end()
	}
	close(b.closed)
}

type natsSubscription struct {
	bus *NATSBus
	sub *nats.Subscription

	mu    sync.Mutex
	ch    chan *Message
	ended bool
}

func (s *natsSubscription) receive(m *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.ch <- &Message{Subject: m.Subject, Data: m.Data}:
	default:
		// Subscriber is not keeping up.
	}
}

func (s *natsSubscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

// Messages returns the delivery channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription and closes its channel.
func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if err == nats.ErrConnectionClosed || err == nats.ErrBadSubscription {
		err = nil
	}

	s.bus.mu.Lock()
	if s.bus.subs != nil {
		delete(s.bus.subs, s)
	}
	s.bus.mu.Unlock()

	s.end()
	return err
}

var _ MessageBus = (*NATSBus)(nil)
