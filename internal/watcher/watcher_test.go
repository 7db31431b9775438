package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localidx/fileidx/internal/eventbus"
	"github.com/localidx/fileidx/internal/logging"
)

func drain(t *testing.T, bus *eventbus.Bus, timeout time.Duration) []eventbus.Event {
	t.Helper()
	var events []eventbus.Event
	deadline := time.After(timeout)
	for {
		select {
		case e := <-bus.Events():
			events = append(events, e)
		case <-deadline:
			return events
		}
	}
}

func TestWatcherReportsNewFileAsCreated(t *testing.T) {
	root := t.TempDir()
	bus := eventbus.New()
	logger := logging.NewRootLogger(logging.LevelDisabled)

	w, err := New(root, "", bus, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	events := drain(t, bus, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Kind == eventbus.KindCreated {
			for _, p := range e.Paths {
				if p == "new.txt" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a Created event for new.txt, got %+v", events)
	}
}

func TestWatcherReportsModificationAsUpdated(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "existing.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	logger := logging.NewRootLogger(logging.LevelDisabled)
	w, err := New(root, "", bus, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(target, []byte("rewritten"), 0o644); err != nil {
		t.Fatal(err)
	}

	events := drain(t, bus, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Kind == eventbus.KindUpdated {
			for _, p := range e.Paths {
				if p == "existing.txt" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected an Updated event for existing.txt, got %+v", events)
	}
}

func TestWatcherReportsRemovalAsRemoved(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	logger := logging.NewRootLogger(logging.LevelDisabled)
	w, err := New(root, "", bus, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	events := drain(t, bus, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Kind == eventbus.KindRemoved {
			for _, p := range e.Paths {
				if p == "gone.txt" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a Removed event for gone.txt, got %+v", events)
	}
}

func TestWatcherRecursivelyWatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	bus := eventbus.New()
	logger := logging.NewRootLogger(logging.LevelDisabled)

	w, err := New(root, "", bus, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	sub := filepath.Join(root, "newdir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher goroutine a moment to observe the directory creation
	// and register a watch on it before a file appears inside it.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	events := drain(t, bus, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Kind == eventbus.KindCreated || e.Kind == eventbus.KindUpdated {
			for _, p := range e.Paths {
				if p == "newdir/inner.txt" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a change event for newdir/inner.txt, got %+v", events)
	}
}

func TestWatcherEmitsConfigReloadedOnConfigFileChange(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("working_directory = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	logger := logging.NewRootLogger(logging.LevelDisabled)

	w, err := New(root, configPath, bus, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(configPath, []byte("working_directory = \"/tmp\"\nport = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	events := drain(t, bus, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Kind == eventbus.KindConfigReloaded && e.ConfigPath == configPath {
			found = true
		}
		if e.Kind == eventbus.KindUpdated || e.Kind == eventbus.KindRemoved {
			t.Fatalf("configuration file change leaked into tree events: %+v", e)
		}
	}
	if !found {
		t.Fatalf("expected a ConfigReloaded event for %s, got %+v", configPath, events)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	root := t.TempDir()
	bus := eventbus.New()
	logger := logging.NewRootLogger(logging.LevelDisabled)

	w, err := New(root, "", bus, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-w.Errors():
		if err != ErrWatchTerminated {
			t.Fatalf("expected ErrWatchTerminated, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Errors() to be populated after Close")
	}
}
