// Package watcher implements the recursive filesystem watcher: it
// bridges fsnotify's per-directory, non-recursive primitive into a single
// recursive watch over an entire tree, registering new subdirectories as
// they appear and forwarding every observed change into an eventbus.Bus as
// root-relative paths.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/localidx/fileidx/internal/eventbus"
	"github.com/localidx/fileidx/internal/logging"
)

const (
	// coalescingWindow is the quiet period used to batch a burst of raw
	// fsnotify events (e.g. a multi-write save) into a single reconciliation
	// hint. It mirrors the short debounce window conventionally used around
	// directory-notification APIs that can deliver several events for what
	// the user perceives as one change.
	coalescingWindow = 10 * time.Millisecond
)

// ErrWatchTerminated indicates that a watcher was terminated, either via
// Close or because its underlying fsnotify watcher failed.
var ErrWatchTerminated = errors.New("watcher: terminated")

// Watcher recursively watches a directory tree and forwards change
// notifications into an event bus. It additionally subscribes, non-
// recursively, to a single configuration file path and emits ConfigReloaded
// instead of Updated/Removed for changes observed there. It is not safe for
// concurrent use other than draining Errors() concurrently with normal
// operation.
type Watcher struct {
	root       string
	configPath string
	fsw        *fsnotify.Watcher
	bus        *eventbus.Bus
	logger     *logging.Logger
	errors     chan error
	cancel     context.CancelFunc
	done       sync.WaitGroup
	finished   atomic.Bool
	watched    map[string]bool
	mu         sync.Mutex
}

// New creates a recursive watcher rooted at root and immediately registers
// every directory currently under it. Events observed after construction are
// forwarded to bus; it does not itself perform a reconciliation scan, so a
// scanner.Scan of root should normally run before, or be triggered by, the
// daemon consuming the very first events this watcher produces.
//
// If configPath is non-empty, it is additionally watched non-recursively: a
// write to (or atomic replacement of) that exact file emits a
// ConfigReloaded event instead of being treated as part of the tree.
func New(root, configPath string, bus *eventbus.Bus, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: unable to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		bus:     bus,
		logger:  logger,
		errors:  make(chan error, 1),
		watched: make(map[string]bool),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watcher: unable to register %s: %w", root, err)
	}

	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watcher: unable to resolve configuration path %s: %w", configPath, err)
		}
		if err := fsw.Add(abs); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watcher: unable to watch configuration file %s: %w", abs, err)
		}
		w.configPath = abs
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		defer w.finished.Store(true)
		select {
		case w.errors <- w.run(ctx):
		default:
		}
	}()

	return w, nil
}

// addTree registers dir and every subdirectory beneath it with the
// underlying fsnotify watcher.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn(fmt.Errorf("watcher: walk %s: %w", p, err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.add(p)
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) remove(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watched[dir] {
		return
	}
	delete(w.watched, dir)
	w.fsw.Remove(dir)
}

// run is the watcher's event processing loop. It coalesces bursts of raw
// fsnotify events for the same path within coalescingWindow before emitting
// a single notification, and transparently extends the watch tree when a
// new directory is created.
func (w *Watcher) run(ctx context.Context) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]fsnotify.Op)
	pendingConfig := false

	flush := func() {
		for path, op := range pending {
			w.dispatch(path, op)
		}
		pending = make(map[string]fsnotify.Op)
		if pendingConfig {
			w.bus.SendConfigReloaded(w.configPath)
			pendingConfig = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ErrWatchTerminated
		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher: fsnotify events channel closed")
			}
			if w.configPath != "" && event.Name == w.configPath {
				w.observeConfigChange(event)
				pendingConfig = true
			} else {
				w.observeStructuralChange(event)
				pending[event.Name] |= event.Op
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(coalescingWindow)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher: fsnotify errors channel closed")
			}
			w.logger.Warn(fmt.Errorf("watcher: fsnotify: %w", err))
		case <-timer.C:
			flush()
		}
	}
}

// observeStructuralChange keeps the set of watched directories in sync with
// the live tree: a newly created directory is watched recursively, and a
// removed or renamed-away directory is unwatched.
func (w *Watcher) observeStructuralChange(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn(fmt.Errorf("watcher: unable to watch new directory %s: %w", event.Name, err))
			}
		}
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.remove(event.Name)
	}
}

// observeConfigChange keeps the configuration file watch alive across the
// replace-by-rename save pattern many editors use: the inotify watch on the
// old inode is dropped by the kernel once it's renamed over, so it must be
// re-added against the (now different) file at the same path.
func (w *Watcher) observeConfigChange(event fsnotify.Event) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if err := w.fsw.Add(w.configPath); err != nil {
			w.logger.Warn(fmt.Errorf("watcher: unable to re-watch configuration file %s: %w", w.configPath, err))
		}
	}
}

// dispatch translates one coalesced path into a root-relative eventbus
// notification, classifying it by the accumulated operations observed within
// the coalescing window and by whatever now exists on disk at that path. A
// path that no longer exists is reported as removed; one whose burst included
// a creation is reported as created; everything else is an update. The
// accumulated-op check means a create-then-write burst (the common way a new
// file lands) still surfaces as a single creation.
func (w *Watcher) dispatch(path string, op fsnotify.Op) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		w.logger.Warn(fmt.Errorf("watcher: relativize %s: %w", path, err))
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return
	}

	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			w.bus.SendRemoved([]string{rel})
			return
		}
		w.logger.Warn(fmt.Errorf("watcher: stat %s: %w", path, err))
		return
	}
	if op&fsnotify.Create != 0 {
		w.bus.SendCreated([]string{rel})
		return
	}
	w.bus.SendUpdated([]string{rel})
}

// Errors returns a channel populated exactly once, when the watcher's run
// loop terminates: with ErrWatchTerminated if Close was called first, or the
// error that caused it to stop otherwise.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop asks the watcher's run loop to exit without waiting for it to do so.
// Pair with IsFinished for the shared poll-then-force shutdown pattern.
func (w *Watcher) Stop() {
	w.cancel()
}

// IsFinished reports whether the run loop has exited. It is safe to call
// concurrently with normal operation.
func (w *Watcher) IsFinished() bool {
	return w.finished.Load()
}

// Close terminates the watcher, waits for its run loop to exit, and releases
// the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	w.done.Wait()
	return w.fsw.Close()
}
