package suites

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatcherRun(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			calls <- struct{}{}
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "test_a.yaml", "name: A\n")
	writeFile(t, dir, "a.star", "x = 1\n")

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange was not called")
	}

	// The burst above settles into a single call.
	select {
	case <-calls:
		t.Error("onChange called more than once for one burst")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcherMissingDir(t *testing.T) {
	w := NewWatcher("/nonexistent/procci-suites", 0, nil)
	if err := w.Run(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"manifest write", fsnotify.Event{Name: "/s/test_a.yaml", Op: fsnotify.Write}, true},
		{"cue create", fsnotify.Event{Name: "/s/test_a.cue", Op: fsnotify.Create}, true},
		{"script remove", fsnotify.Event{Name: "/s/a.star", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "/s/a.star", Op: fsnotify.Chmod}, false},
		{"editor swap file", fsnotify.Event{Name: "/s/.a.star.swp", Op: fsnotify.Write}, false},
		{"other extension", fsnotify.Event{Name: "/s/readme.md", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relevant(tt.event); got != tt.want {
				t.Errorf("relevant() = %v, want %v", got, tt.want)
			}
		})
	}
}
