// Package daemon implements the single-owner index event loop: the
// only goroutine in the process that ever touches the store handle
// directly. Every other component talks to it by sending an Event through
// the bus.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/localidx/fileidx/internal/access"
	"github.com/localidx/fileidx/internal/eventbus"
	"github.com/localidx/fileidx/internal/hashfs"
	"github.com/localidx/fileidx/internal/index"
	"github.com/localidx/fileidx/internal/logging"
	"github.com/localidx/fileidx/internal/scanner"
)

// ConfigLoader re-parses a configuration file into a fresh set of access
// pool entries. It is satisfied by config.Load plus config.AccessPoolEntries
// composed together; kept as a function type here so the daemon doesn't import
// the config package directly and so tests can substitute a fake.
type ConfigLoader func(path string) (map[string][]string, error)

// Daemon owns an index.Store for its entire lifetime and serializes all
// access to it by processing eventbus.Events strictly in arrival order.
type Daemon struct {
	root       string
	store      *index.Store
	hash       hashfs.Func
	pool       *access.Pool
	loadConfig ConfigLoader
	logger     *logging.Logger
	finished   atomic.Bool
}

// New creates a Daemon rooted at root (the watched directory, used to turn
// the root-relative paths carried in events back into real filesystem
// paths). pool is the shared access pool that ConfigReloaded events update
// in place; it must be the same *access.Pool the HTTP layer consults for
// authorization.
func New(root string, store *index.Store, hash hashfs.Func, pool *access.Pool, loadConfig ConfigLoader, logger *logging.Logger) *Daemon {
	return &Daemon{
		root:       root,
		store:      store,
		hash:       hash,
		pool:       pool,
		loadConfig: loadConfig,
		logger:     logger,
	}
}

// Reconcile runs a synchronous mark/sweep scan of root against the store.
// It must return before Run is started, so that the scan and the event loop
// never touch the store at the same time and no query ever observes a
// half-reconciled store.
func (d *Daemon) Reconcile() error {
	result, err := scanner.Scan(d.root, d.store, d.hash, d.logger)
	if err != nil {
		return fmt.Errorf("daemon: reconciliation scan failed: %w", err)
	}
	for _, scanErr := range result.Errors {
		d.logger.Warn(scanErr)
	}
	return nil
}

// Run consumes events from bus until a Terminate event arrives or ctx is
// canceled, processing each strictly in arrival order. It returns nil on a
// clean stop. It returns a non-nil error, wrapping an *index.StoreError, the
// moment the store itself fails (a corrupted or unwritable index file):
// that failure is fatal, unlike the per-path I/O errors upsert can return,
// which are logged and otherwise ignored. IsFinished reports true once Run
// has returned, regardless of which way it returned.
func (d *Daemon) Run(ctx context.Context, bus *eventbus.Bus) error {
	defer d.finished.Store(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-bus.Events():
			if !ok {
				return nil
			}
			terminate, err := d.handle(event)
			if err != nil {
				return err
			}
			if terminate {
				return nil
			}
		}
	}
}

// handle processes a single event, reporting whether the loop should stop
// and, separately, a fatal store error if one occurred.
func (d *Daemon) handle(event eventbus.Event) (terminate bool, err error) {
	switch event.Kind {
	case eventbus.KindCreated, eventbus.KindUpdated:
		err = d.handleUpsert(event.Paths)
	case eventbus.KindRemoved:
		err = d.handleRemoved(event.Paths)
	case eventbus.KindQuery:
		err = d.handleQuery(event.Paths, event.Reply)
	case eventbus.KindConfigReloaded:
		d.handleConfigReloaded(event.ConfigPath)
	case eventbus.KindTerminate:
		return true, nil
	}
	return false, err
}

// isStoreError reports whether err is (or wraps) an *index.StoreError, the
// category the error taxonomy marks fatal to the daemon.
func isStoreError(err error) bool {
	var storeErr *index.StoreError
	return errors.As(err, &storeErr)
}

func (d *Daemon) handleUpsert(paths []string) error {
	for _, p := range paths {
		if err := upsert(d.root, d.store, d.hash, p); err != nil {
			if isStoreError(err) {
				return fmt.Errorf("daemon: upsert %s: %w", p, err)
			}
			d.logger.Warn(fmt.Errorf("daemon: upsert %s: %w", p, err))
		}
	}
	return nil
}

func (d *Daemon) handleRemoved(paths []string) error {
	for _, p := range paths {
		if err := d.store.Delete(p); err != nil {
			if isStoreError(err) {
				return fmt.Errorf("daemon: delete %s: %w", p, err)
			}
			d.logger.Warn(fmt.Errorf("daemon: delete %s: %w", p, err))
		}
	}
	return nil
}

func (d *Daemon) handleQuery(paths []string, reply chan<- []eventbus.QueryResult) error {
	results := make([]eventbus.QueryResult, 0, len(paths))
	for _, p := range paths {
		rec, ok, err := d.store.Lookup(p)
		if err != nil {
			if isStoreError(err) {
				// A partial result set is still delivered: the caller is
				// waiting on a query that will never be retried once the
				// daemon exits, so a best-effort reply beats none at all.
				select {
				case reply <- results:
				default:
				}
				return fmt.Errorf("daemon: query lookup %s: %w", p, err)
			}
			d.logger.Warn(fmt.Errorf("daemon: query lookup %s: %w", p, err))
			results = append(results, eventbus.QueryResult{Path: p, Present: false})
			continue
		}
		results = append(results, eventbus.QueryResult{Path: p, Present: ok, Record: rec})
	}
	// A non-blocking send: the reply channel is always buffered with
	// capacity 1, so this never blocks the loop even if the HTTP handler
	// that created it has already timed out and stopped reading.
	select {
	case reply <- results:
	default:
	}
	return nil
}

func (d *Daemon) handleConfigReloaded(configPath string) {
	entries, err := d.loadConfig(configPath)
	if err != nil {
		d.logger.Warn(fmt.Errorf("daemon: config reload %s: %w", configPath, err))
		return
	}
	d.pool.Replace(entries)
	d.logger.Info("configuration reloaded from", configPath)
}

// IsFinished reports whether Run's loop has exited. It is safe to call
// concurrently with Run.
func (d *Daemon) IsFinished() bool {
	return d.finished.Load()
}
