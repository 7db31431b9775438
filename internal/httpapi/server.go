// Package httpapi implements the HTTP surface: an unauthenticated status
// endpoint, a bearer-token-scoped batch query endpoint, and a single-file
// download endpoint, all routed with httprouter.
package httpapi

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/localidx/fileidx/internal/access"
	"github.com/localidx/fileidx/internal/eventbus"
	"github.com/localidx/fileidx/internal/logging"
)

// DefaultWaitTime is the default (and maximum) duration the query handler
// will wait on a reply before returning 504. Values above this are clamped.
const DefaultWaitTime = 3 * time.Second

const (
	readTimeout = 5 * time.Second
	idleTimeout = 2 * time.Minute
)

// Server holds everything the HTTP handlers need: the watched root (for
// download path resolution), the event bus (for queries), the shared access
// pool (for authentication), and a wait time clamp for query requests.
type Server struct {
	root     string
	bus      *eventbus.Bus
	pool     *access.Pool
	logger   *logging.Logger
	waitTime time.Duration
	server   *http.Server
}

// New constructs a Server. waitTime is clamped to [0, DefaultWaitTime]; a
// non-positive value falls back to DefaultWaitTime.
func New(root string, bus *eventbus.Bus, pool *access.Pool, logger *logging.Logger, waitTime time.Duration) *Server {
	if waitTime <= 0 || waitTime > DefaultWaitTime {
		waitTime = DefaultWaitTime
	}

	s := &Server{
		root:     root,
		bus:      bus,
		pool:     pool,
		logger:   logger,
		waitTime: waitTime,
	}

	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false
	router.HandleOPTIONS = false
	router.NotFound = http.HandlerFunc(handleForbidden)

	router.GET("/", s.handleStatus)
	router.GET("/query", requireBearer(pool, s.handleQuery))
	router.GET("/file/*path", requireBearer(pool, s.handleFile))

	var handler http.Handler = router
	handler = securityHeaders(handler)
	handler = requestID(handler)

	s.server = &http.Server{
		Handler:     handler,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
		// Route the standard library's own connection-level error logging
		// (broken pipes, malformed requests, panics in handlers) through the
		// same sublogger everything else in this package uses.
		ErrorLog: log.New(logger.Writer(), "", 0),
	}
	return s
}

// Serve accepts connections on listener until the server is closed. It
// returns http.ErrServerClosed on a clean shutdown.
func (s *Server) Serve(listener net.Listener) error {
	return s.server.Serve(listener)
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close immediately closes all active listeners and connections, used as
// the onTimeout fallback when graceful shutdown doesn't complete in time.
func (s *Server) Close() error {
	return s.server.Close()
}
