package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLifecycleSubjects(t *testing.T) {
	if got := LifecycleSubject("", "api-1"); got != "lifecycle.api-1" {
		t.Errorf("LifecycleSubject default prefix = %q", got)
	}
	if got := LifecycleSubject("ops", "api-1"); got != "ops.api-1" {
		t.Errorf("LifecycleSubject custom prefix = %q", got)
	}
	if got := HeartbeatSubject("api-1"); got != "heartbeat.api-1" {
		t.Errorf("HeartbeatSubject = %q", got)
	}
	if got := AllInstances(""); got != "lifecycle.*" {
		t.Errorf("AllInstances = %q", got)
	}
}

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject     string
		wantErr     bool
		wantPattern bool // valid as a subscription pattern
	}{
		{"lifecycle.api-1", false, false},
		{"heartbeat.3f2c", false, false},
		{"lifecycle.*", true, false},
		{"lifecycle.>", true, false},
		{"*.api-1", true, false},
		{"lifecycle.>.x", true, true},
		{"lifecycle.api*", true, true},
		{"lifecycle..api-1", true, true},
		{"lifecycle.api 1", true, true},
		{"", true, true},
	}

	for _, tt := range tests {
		if err := ValidateSubject(tt.subject); (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
		if err := ValidatePattern(tt.subject); (err != nil) != tt.wantPattern {
			t.Errorf("ValidatePattern(%q) = %v, wantErr %v", tt.subject, err, tt.wantPattern)
		}
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"lifecycle.api-1", "lifecycle.api-1", true},
		{"lifecycle.api-1", "lifecycle.api-2", false},
		{"lifecycle.*", "lifecycle.api-2", true},
		{"lifecycle.*", "heartbeat.api-2", false},
		{"lifecycle.*", "lifecycle.eu.api-2", false},
		{"lifecycle.>", "lifecycle.eu.api-2", true},
		{"lifecycle.>", "lifecycle", false},
		{"*.api-1", "heartbeat.api-1", true},
	}
	for _, tt := range tests {
		if got := MatchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("MatchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

func recv(t *testing.T, sub Subscription) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(sub Subscription) []string {
	var got []string
	for msg := range sub.Messages() {
		got = append(got, string(msg.Data))
	}
	return got
}

// TestMemoryBus_RouterSeesEveryInstance subscribes the way a router does
// and checks per-instance order is preserved.
func TestMemoryBus_RouterSeesEveryInstance(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	router, err := b.Subscribe(AllInstances(""))
	if err != nil {
		t.Fatal(err)
	}
	own, _ := b.Subscribe(LifecycleSubject("", "api-2"))

	b.Publish(LifecycleSubject("", "api-1"), []byte("draining"))
	b.Publish(LifecycleSubject("", "api-2"), []byte("draining"))
	b.Publish(HeartbeatSubject("api-1"), []byte("beat"))
	b.Publish(LifecycleSubject("", "api-1"), []byte("cleaning_up"))

	want := []string{
		"lifecycle.api-1 draining",
		"lifecycle.api-2 draining",
		"lifecycle.api-1 cleaning_up",
	}
	for i, w := range want {
		msg := recv(t, router)
		if got := msg.Subject + " " + string(msg.Data); got != w {
			t.Errorf("router message %d = %q, want %q", i, got, w)
		}
	}

	msg := recv(t, own)
	if msg.Subject != "lifecycle.api-2" {
		t.Errorf("instance subscription got %q", msg.Subject)
	}
}

func TestMemoryBus_RejectsInvalidSubjects(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	if err := b.Publish("lifecycle.*", nil); err != ErrInvalidSubject {
		t.Errorf("publish to wildcard: got %v", err)
	}
	if _, err := b.Subscribe("lifecycle..x"); err != ErrInvalidSubject {
		t.Errorf("subscribe to empty token: got %v", err)
	}
}

// TestMemoryBus_CleanupFlushesPendingAnnouncements publishes the shutdown
// announcements faster than the subscriber reads them. Cleanup must hand
// every one over before closing the channel.
func TestMemoryBus_CleanupFlushesPendingAnnouncements(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	sub, _ := b.Subscribe(LifecycleSubject("", "api-1"))

	states := []string{"draining", "cleaning_up", "stopped"}
	for _, s := range states {
		if err := b.Publish(LifecycleSubject("", "api-1"), []byte(s)); err != nil {
			t.Fatal(err)
		}
	}

	cleaned := make(chan error, 1)
	go func() { cleaned <- b.Cleanup(context.Background()) }()

	got := collect(sub)
	if fmt.Sprint(got) != fmt.Sprint(states) {
		t.Errorf("delivered %v, want %v", got, states)
	}
	select {
	case err := <-cleaned:
		if err != nil {
			t.Errorf("Cleanup error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cleanup did not return")
	}
}

func TestMemoryBus_PublishRefusedWhileDraining(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	sub, _ := b.Subscribe("lifecycle.api-1")
	b.Publish("lifecycle.api-1", []byte("draining"))
	b.Publish("lifecycle.api-1", []byte("cleaning_up"))

	cleaned := make(chan error, 1)
	go func() { cleaned <- b.Cleanup(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for !b.Draining() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := b.Publish("lifecycle.api-1", []byte("late")); err != ErrClosed {
		t.Errorf("publish while draining: got %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe("lifecycle.api-2"); err != ErrClosed {
		t.Errorf("subscribe while draining: got %v, want ErrClosed", err)
	}

	if got := collect(sub); len(got) != 2 {
		t.Errorf("delivered %v, want the two queued messages", got)
	}
	if err := <-cleaned; err != nil {
		t.Errorf("Cleanup error: %v", err)
	}
}

func TestMemoryBus_CleanupGivesUpAtDeadline(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	sub, _ := b.Subscribe("lifecycle.api-1")
	for i := 0; i < 4; i++ {
		b.Publish("lifecycle.api-1", []byte("x"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Cleanup(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The buffered message is still readable, then the channel closes.
	if got := collect(sub); len(got) != 1 {
		t.Errorf("after deadline got %d messages, want 1", len(got))
	}
	if err := b.Publish("lifecycle.api-1", nil); err != ErrClosed {
		t.Errorf("publish after cleanup: got %v", err)
	}
}

func TestMemoryBus_DrainTimeoutBoundsCleanup(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1, DrainTimeout: 30 * time.Millisecond})
	b.Subscribe("lifecycle.api-1")
	b.Publish("lifecycle.api-1", []byte("a"))
	b.Publish("lifecycle.api-1", []byte("b"))

	start := time.Now()
	if err := b.Cleanup(context.Background()); err == nil {
		t.Fatal("expected error with an unread subscriber")
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("Cleanup waited %v", waited)
	}
}

func TestMemoryBus_CloseDiscardsPending(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	sub, _ := b.Subscribe("lifecycle.api-1")
	for i := 0; i < 5; i++ {
		b.Publish("lifecycle.api-1", []byte("x"))
	}
	b.Close()

	if got := collect(sub); len(got) > 1 {
		t.Errorf("Close delivered %d messages, want at most the buffered one", len(got))
	}
	if err := b.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup after Close: %v", err)
	}
}

func TestMemoryBus_PendingLimitDrops(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1, MaxPending: 2})
	sub, _ := b.Subscribe("heartbeat.api-1")
	for i := 0; i < 10; i++ {
		b.Publish("heartbeat.api-1", []byte("beat"))
	}

	go b.Cleanup(context.Background())
	got := collect(sub)
	if len(got) < 1 || len(got) > 4 {
		t.Errorf("delivered %d beats, want between 1 and 4", len(got))
	}
	if int(b.Dropped())+len(got) != 10 {
		t.Errorf("dropped %d + delivered %d != 10", b.Dropped(), len(got))
	}
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("lifecycle.api-1")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed channel after Unsubscribe")
	}
	if err := b.Publish("lifecycle.api-1", []byte("draining")); err != nil {
		t.Errorf("publish without subscribers: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
}

func TestMemoryBus_ConcurrentPublishDuringCleanup(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	sub, _ := b.Subscribe(AllInstances(""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			subject := LifecycleSubject("", fmt.Sprintf("api-%d", n))
			for j := 0; j < 50; j++ {
				if err := b.Publish(subject, []byte("x")); err == ErrClosed {
					return
				}
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range sub.Messages() {
		}
	}()

	time.Sleep(time.Millisecond)
	if err := b.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup error: %v", err)
	}
	wg.Wait()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscription channel was not closed")
	}
}
