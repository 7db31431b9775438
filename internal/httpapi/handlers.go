package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/julienschmidt/httprouter"

	"github.com/localidx/fileidx/internal/access"
	"github.com/localidx/fileidx/internal/fileidx"
)

// statusPayload is the literal shape of the unauthenticated status response;
// unlike every other response it is not wrapped in Envelope.
type statusPayload struct {
	Version string `json:"version"`
	Status  int    `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(statusPayload{Version: fileidx.Version, Status: http.StatusOK})
}

// handleQuery serves GET /query: the caller's own allowed prefixes are the
// batch of paths looked up against the index.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params, prefixes []string) {
	reply := s.bus.SendQuery(prefixes)

	ctx, cancel := context.WithTimeout(r.Context(), s.waitTime)
	defer cancel()

	select {
	case results := <-reply:
		writeOK(w, results)
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "query timed out")
	}
}

// handleFile serves GET /file/*path: a single-file download gated by the
// path-penetration and allowed-prefix checks in internal/access.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params, prefixes []string) {
	requested := ps.ByName("path")
	// httprouter's catch-all parameter includes the leading slash.
	requested = trimLeadingSlash(requested)

	resolved, err := access.CheckDownload(s.root, requested, prefixes)
	if err != nil {
		if errors.Is(err, access.ErrForbidden) {
			writeError(w, http.StatusForbidden, "path not permitted")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusBadRequest, "path is a directory")
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(resolved)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn(fmt.Errorf("httpapi: stream %s: %w", resolved, err))
	}
}

// handleForbidden is wired as the router's NotFound handler; with
// HandleMethodNotAllowed disabled, a known path requested with another method
// lands here too, so any request that doesn't match a registered route is
// uniformly 403, matching the "otherwise -> Forbidden" fallback
// rule at the request boundary.
func handleForbidden(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusForbidden, "forbidden")
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
