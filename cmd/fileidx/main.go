// Command fileidx runs the authenticated file-index server: it mirrors a
// directory tree into a small on-disk index and serves bearer-token-scoped
// batch metadata queries and single-file downloads over HTTP.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/localidx/fileidx/internal/access"
	"github.com/localidx/fileidx/internal/config"
	"github.com/localidx/fileidx/internal/daemon"
	"github.com/localidx/fileidx/internal/eventbus"
	"github.com/localidx/fileidx/internal/hashfs"
	"github.com/localidx/fileidx/internal/httpapi"
	"github.com/localidx/fileidx/internal/index"
	"github.com/localidx/fileidx/internal/lifecycle"
	"github.com/localidx/fileidx/internal/logging"
	"github.com/localidx/fileidx/internal/watcher"
)

// terminationSignals are the signals that request server shutdown. The
// first initiates a graceful stop; the second forces immediate exit.
var terminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// runConfiguration holds the flags bound to the root command.
var runConfiguration struct {
	configPath    string
	listen        string
	port          uint16
	skipCheck     bool
	serverTimeout uint32
}

var rootCommand = &cobra.Command{
	Use:          "fileidx",
	Short:        "Run the authenticated file-index server",
	Args:         cobra.NoArgs,
	RunE:         runMain,
	SilenceUsage: true,
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false
	flags.StringVar(&runConfiguration.configPath, "config", "config.toml", "Path to the TOML configuration file")
	flags.StringVar(&runConfiguration.listen, "listen", "", "Override [server].host")
	flags.Uint16Var(&runConfiguration.port, "port", 0, "Override [server].port")
	flags.BoolVar(&runConfiguration.skipCheck, "skip-check", false, "Skip the startup scan/reconciliation")
	flags.Uint32Var(&runConfiguration.serverTimeout, "server-timeout", 0, "Override the query wait time in seconds, clamped to 3")
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runMain(_ *cobra.Command, _ []string) error {
	logger := logging.NewRootLogger(logging.LevelInfo)

	cfg, err := config.Load(runConfiguration.configPath)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	if runConfiguration.listen != "" {
		cfg.Server.Host = runConfiguration.listen
	}
	if runConfiguration.port != 0 {
		cfg.Server.Port = runConfiguration.port
	}
	waitTime := httpapi.DefaultWaitTime
	if runConfiguration.serverTimeout != 0 {
		waitTime = time.Duration(runConfiguration.serverTimeout) * time.Second
	}

	store, err := index.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("unable to open index: %w", err)
	}
	defer store.Close()

	pool := access.NewPool(cfg.AccessPoolEntries())
	bus := eventbus.New()

	loadConfig := func(path string) (map[string][]string, error) {
		reloaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		return reloaded.AccessPoolEntries(), nil
	}

	d := daemon.New(cfg.WorkingDirectory, store, hashfs.Hash, pool, loadConfig, logger.Sublogger("daemon"))
	if !runConfiguration.skipCheck {
		logger.Info("reconciling index against", cfg.WorkingDirectory)
		if err := d.Reconcile(); err != nil {
			return fmt.Errorf("unable to perform startup reconciliation: %w", err)
		}
	}

	daemonCtx, cancelDaemon := context.WithCancel(context.Background())
	daemonErrors := make(chan error, 1)
	go func() { daemonErrors <- d.Run(daemonCtx, bus) }()

	w, err := watcher.New(cfg.WorkingDirectory, runConfiguration.configPath, bus, logger.Sublogger("watcher"))
	if err != nil {
		cancelDaemon()
		return fmt.Errorf("unable to start filesystem watcher: %w", err)
	}

	server := httpapi.New(cfg.WorkingDirectory, bus, pool, logger.Sublogger("http"), waitTime)
	listener, err := net.Listen("tcp", cfg.Bind())
	if err != nil {
		w.Close()
		cancelDaemon()
		return fmt.Errorf("unable to bind %s: %w", cfg.Bind(), err)
	}

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- server.Serve(listener) }()

	if info, statErr := os.Stat(cfg.DatabasePath()); statErr == nil {
		logger.Info(fmt.Sprintf("serving %s on %s (index %s)", cfg.WorkingDirectory, cfg.Bind(), humanize.Bytes(uint64(info.Size()))))
	} else {
		logger.Info(fmt.Sprintf("serving %s on %s", cfg.WorkingDirectory, cfg.Bind()))
	}

	terminationSignalChannel := make(chan os.Signal, 2)
	signal.Notify(terminationSignalChannel, terminationSignals...)

	watcherErrors := w.Errors()
	shuttingDown := false
	for !shuttingDown {
		select {
		case s := <-terminationSignalChannel:
			logger.Info("received termination signal:", s)
			shuttingDown = true
		case err := <-serverErrors:
			logger.Error(fmt.Errorf("HTTP server terminated abnormally: %w", err))
			shuttingDown = true
		case err := <-watcherErrors:
			// A watcher failure is non-fatal: the process keeps serving
			// queries against a now-potentially-stale index. The channel is
			// populated exactly once, so disarm it and keep waiting for a
			// real shutdown trigger.
			logger.Warn(fmt.Errorf("filesystem watcher terminated: %w", err))
			watcherErrors = nil
		case err := <-daemonErrors:
			if err != nil {
				// A StoreError is fatal: the index file itself is corrupted or
				// unwritable, so there's nothing left to gracefully shut down.
				logger.Error(fmt.Errorf("index store failed, exiting: %w", err))
				server.Close()
				w.Close()
				os.Exit(1)
			}
			shuttingDown = true
		}
	}

	shutdownComplete := make(chan struct{})
	go func() {
		gracefulShutdown(server, w, bus, cancelDaemon, d, logger)
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		return nil
	case s := <-terminationSignalChannel:
		logger.Warn(fmt.Errorf("received second termination signal (%v): forcing exit", s))
		os.Exit(137)
		return nil
	}
}

// gracefulShutdown stops the HTTP server, the watcher, and the daemon, in
// that order: once the server and watcher have stopped producing events, the
// Terminate pushed onto the bus is guaranteed to be the last event the daemon
// processes. Both the watcher and the daemon stop through the shared
// poll-then-force pattern (internal/lifecycle).
func gracefulShutdown(server *httpapi.Server, w *watcher.Watcher, bus *eventbus.Bus, cancelDaemon context.CancelFunc, d *daemon.Daemon, logger *logging.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
	}

	lifecycle.Stop(
		w.Stop,
		w.IsFinished,
		func() {
			logger.Warn(fmt.Errorf("watcher did not stop within the polling window"))
		},
	)
	if err := w.Close(); err != nil {
		logger.Warn(fmt.Errorf("watcher close: %w", err))
	}

	lifecycle.Stop(
		bus.SendTerminate,
		d.IsFinished,
		func() {
			logger.Warn(fmt.Errorf("daemon did not stop gracefully within the polling window, forcing"))
			cancelDaemon()
		},
	)
	cancelDaemon()
}
