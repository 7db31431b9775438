package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/localidx/fileidx/internal/access"
)

// securityHeaders adds the same standard API hardening headers the daemon's
// own HTTP stack has always carried, independent of which route is served.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		headers.Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// requestID stamps every response with a fresh request identifier, for
// ambient correlation in logs; it carries no authorization meaning.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// authedHandle is an httprouter.Handle variant extended with the requesting
// token's resolved allowed-path prefixes, already validated by requireBearer.
type authedHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, prefixes []string)

// requireBearer parses and validates the Authorization header against pool,
// producing a 401 envelope on any failure, and otherwise invokes next with
// the resolved prefix list.
func requireBearer(pool *access.Pool, next authedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token, ok := access.ParseBearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed bearer credential")
			return
		}
		prefixes, ok := pool.Prefixes(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unknown token")
			return
		}
		next(w, r, ps, prefixes)
	}
}
