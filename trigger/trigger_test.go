package trigger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingTarget struct {
	mu      sync.Mutex
	sources []string
	fired   chan struct{}
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{fired: make(chan struct{}, 8)}
}

func (r *recordingTarget) Trigger(source string) {
	r.mu.Lock()
	r.sources = append(r.sources, source)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recordingTarget) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}

func waitFired(t *testing.T, r *recordingTarget) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not fire")
	}
}

func TestFileTrigger_FiresOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drain")
	target := newRecordingTarget()

	ft, err := NewFileTrigger(Config{Path: path, PollInterval: 20 * time.Millisecond}, target)
	if err != nil {
		t.Fatalf("NewFileTrigger: %v", err)
	}
	defer ft.Close()

	if ft.Fired() {
		t.Fatal("should not fire before the file exists")
	}

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	waitFired(t, target)

	calls := target.calls()
	if len(calls) != 1 || calls[0] != "file:"+ft.Path() {
		t.Errorf("unexpected trigger calls: %v", calls)
	}
}

func TestFileTrigger_FiresOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drain")
	target := newRecordingTarget()

	ft, err := NewFileTrigger(Config{Path: path, PollInterval: 20 * time.Millisecond}, target)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	os.WriteFile(path, []byte("1"), 0o644)
	waitFired(t, target)
	os.WriteFile(path, []byte("2"), 0o644)
	os.Remove(path)
	os.WriteFile(path, []byte("3"), 0o644)

	time.Sleep(100 * time.Millisecond)
	if n := len(target.calls()); n != 1 {
		t.Errorf("expected exactly one trigger, got %d", n)
	}
}

func TestFileTrigger_ExistingSentinelFiresImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drain")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	target := newRecordingTarget()

	ft, err := NewFileTrigger(Config{Path: path}, target)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	if !ft.Fired() {
		t.Error("expected trigger to fire for an existing sentinel")
	}
	waitFired(t, target)
}

func TestFileTrigger_SentinelCreatedWhileWatchStarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drain")

	orig := beforeWatch
	beforeWatch = func(string) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Error(err)
		}
	}
	defer func() { beforeWatch = orig }()

	target := newRecordingTarget()
	ft, err := NewFileTrigger(Config{Path: path, PollInterval: time.Hour}, target)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	if ft.Polling() {
		t.Skip("fsnotify unavailable")
	}
	if !ft.Fired() {
		t.Fatal("sentinel created before the watch was installed was missed")
	}
	waitFired(t, target)
	if got := target.calls(); len(got) != 1 {
		t.Errorf("fired %d times, want 1", len(got))
	}
}

func TestFileTrigger_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := newRecordingTarget()

	ft, err := NewFileTrigger(Config{Path: filepath.Join(dir, "drain")}, target)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	os.WriteFile(filepath.Join(dir, "other"), nil, 0o644)
	time.Sleep(100 * time.Millisecond)
	if ft.Fired() {
		t.Error("unrelated file should not fire the trigger")
	}
}

func TestFileTrigger_PollsWhenDirectoryMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	path := filepath.Join(dir, "drain")
	target := newRecordingTarget()

	ft, err := NewFileTrigger(Config{Path: path, PollInterval: 20 * time.Millisecond}, target)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	if !ft.Polling() {
		t.Fatal("expected polling fallback for a missing directory")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	waitFired(t, target)
}

func TestFileTrigger_CloseIsIdempotent(t *testing.T) {
	ft, err := NewFileTrigger(Config{Path: filepath.Join(t.TempDir(), "drain")}, newRecordingTarget())
	if err != nil {
		t.Fatal(err)
	}
	if err := ft.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := ft.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
