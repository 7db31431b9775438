package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localidx/fileidx/internal/access"
	"github.com/localidx/fileidx/internal/daemon"
	"github.com/localidx/fileidx/internal/eventbus"
	"github.com/localidx/fileidx/internal/hashfs"
	"github.com/localidx/fileidx/internal/index"
	"github.com/localidx/fileidx/internal/logging"
)

func newTestServer(t *testing.T) (*Server, string, func()) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pub", "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "priv"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "priv", "secret.txt"), []byte("shh"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := index.Open(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("index.Open failed: %v", err)
	}

	pool := access.NewPool(map[string][]string{
		"tok":       {"pub"},
		"tok-slash": {"/pub"},
	})
	logger := logging.NewRootLogger(logging.LevelDisabled)
	loadConfig := func(string) (map[string][]string, error) { return nil, nil }

	d := daemon.New(root, store, hashfs.Hash, pool, loadConfig, logger)
	if err := d.Reconcile(); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx, bus)

	srv := New(root, bus, pool, logger, time.Second)
	cleanup := func() {
		bus.SendTerminate()
		cancel()
		store.Close()
	}
	return srv, root, cleanup
}

func TestStatusEndpointRequiresNoAuth(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload statusPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if payload.Status != http.StatusOK || payload.Version == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestQueryWithoutBearerIsUnauthorized(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestQueryWithValidTokenReturnsResults(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if env.Status != http.StatusOK {
		t.Fatalf("envelope status = %d", env.Status)
	}
}

func TestFileDownloadAllowedPrefix(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/file/pub/hello.txt", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/octet-stream" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestFileDownloadAcceptsSlashPrefixedConfiguredPrefix(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/file/pub/hello.txt", nil)
	req.Header.Set("Authorization", "bearer tok-slash")
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestFileDownloadRejectsDisallowedPrefix(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/file/priv/secret.txt", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestFileDownloadRejectsDirectory(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/file/pub", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestFileDownloadNotFound(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/file/pub/nope.txt", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUnmatchedRouteFallsBackToForbidden(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
