package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tracefix/internal/slogutil"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// BatchDebouncer tests

func TestBatchDebouncerAdd(t *testing.T) {
	var received []Event
	var mu sync.Mutex

	emit := func(events []Event) {
		mu.Lock()
		received = events
		mu.Unlock()
	}

	b := NewBatchDebouncer(50*time.Millisecond, emit)
	b.Add(Event{Type: EventCreate, Path: "file1.py"})
	b.Add(Event{Type: EventModify, Path: "file2.py"})
	b.Add(Event{Type: EventDelete, Path: "file3.py"})

	if b.EventCount() != 3 {
		t.Errorf("EventCount() = %d, want 3", b.EventCount())
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %d events, want 3", len(received))
	}
	if received[0].Path != "file1.py" || received[2].Path != "file3.py" {
		t.Errorf("events out of arrival order: %+v", received)
	}
}

func TestBatchDebouncerCollapsesPath(t *testing.T) {
	var received []Event
	b := NewBatchDebouncer(time.Hour, func(events []Event) { received = events })

	b.Add(Event{Type: EventCreate, Path: "a.py"})
	b.Add(Event{Type: EventModify, Path: "a.py"})
	if b.EventCount() != 1 {
		t.Errorf("EventCount() = %d, want 1", b.EventCount())
	}

	b.Flush()
	if len(received) != 1 || received[0].Type != EventModify {
		t.Errorf("received = %+v, want the latest event only", received)
	}
}

func TestBatchDebouncerCancel(t *testing.T) {
	var called bool
	var mu sync.Mutex

	b := NewBatchDebouncer(50*time.Millisecond, func([]Event) {
		mu.Lock()
		called = true
		mu.Unlock()
	})
	b.Add(Event{Type: EventCreate, Path: "file.py"})
	b.Cancel()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if called {
		t.Error("emit should not be called after cancel")
	}
	mu.Unlock()

	if b.EventCount() != 0 {
		t.Errorf("EventCount() = %d, want 0 after cancel", b.EventCount())
	}
}

func TestBatchDebouncerNoEmitWithNoEvents(t *testing.T) {
	called := false
	b := NewBatchDebouncer(10*time.Millisecond, func([]Event) { called = true })
	b.Flush()
	if called {
		t.Error("emit should not be called with no events")
	}
}

func TestWatcherIsIgnored(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Config{Ignore: []string{"generated"}}, slogutil.NewDiscardLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "main.py"), false},
		{filepath.Join(root, "pkg", "mod.py"), false},
		{filepath.Join(root, ".git", "index"), true},
		{filepath.Join(root, ".tracefix", "locks", "x.lock"), true},
		{filepath.Join(root, "generated", "out.py"), true},
		{filepath.Join(root, "node_modules", "x", "index.js"), true},
		{filepath.Dir(root), true},
	}
	for _, tt := range tests {
		if got := w.IsIgnored(tt.path); got != tt.want {
			t.Errorf("IsIgnored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}

	batches := make(chan []Event, 4)
	w, err := New(root, Config{DebounceMs: 50}, slogutil.NewDiscardLogger(), func(events []Event) {
		batches <- events
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pkg", "mod.py"), []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case events := <-batches:
		for _, e := range events {
			if e.Path != "pkg/mod.py" {
				t.Errorf("unexpected event path %q", e.Path)
			}
		}
		if len(events) == 0 {
			t.Error("empty batch")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch received")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w, err := New(t.TempDir(), DefaultConfig(), slogutil.NewDiscardLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
