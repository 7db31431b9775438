package access

import (
	"errors"
	"path/filepath"
	"strings"
)

// bearerPrefix is the exact, case-sensitive scheme prefix a credential must
// carry: lowercase "bearer" followed by a single space. Any other casing or
// scheme is unauthorized.
const bearerPrefix = "bearer "

// ErrUnauthorized indicates a missing, malformed, or unrecognized bearer
// credential.
var ErrUnauthorized = errors.New("access: unauthorized")

// ErrForbidden indicates a request that failed the path-penetration or
// allowed-prefix check.
var ErrForbidden = errors.New("access: forbidden")

// ParseBearerToken extracts the token from an Authorization header value. It
// requires the exact bytes "bearer " (lowercase, trailing space); any other
// scheme or casing fails.
func ParseBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	return header[len(bearerPrefix):], true
}

// Canonicalize resolves requestPath relative to root (symlinks and ".."
// included) and returns the fully resolved absolute path. It fails closed: a
// non-existent path or a permission error is reported as an error rather than
// silently treated as safe.
func Canonicalize(root, requestPath string) (string, error) {
	joined := filepath.Join(root, requestPath)
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// WithinRoot reports whether resolved (already canonicalized) falls under
// root.
func WithinRoot(root, resolved string) bool {
	root = filepath.Clean(root)
	resolved = filepath.Clean(resolved)
	if resolved == root {
		return true
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// HasAllowedPrefix reports whether p begins with at least one of prefixes, as
// a plain string prefix match. Both sides are normalized to the
// no-leading-slash convention stored paths use before comparing, so it
// accepts either convention for both the requested path and the prefixes.
func HasAllowedPrefix(p string, prefixes []string) bool {
	p = strings.TrimPrefix(p, "/")
	for _, prefix := range prefixes {
		if strings.HasPrefix(p, strings.TrimPrefix(prefix, "/")) {
			return true
		}
	}
	return false
}

// CheckDownload runs both required checks for a /file/*path request: the
// resolved path must remain under root, and the requested (pre-resolution)
// path must begin with one of the caller's allowed prefixes. Both failures,
// and any canonicalization failure, yield ErrForbidden.
func CheckDownload(root, requestPath string, prefixes []string) (resolved string, err error) {
	if !HasAllowedPrefix(requestPath, prefixes) {
		return "", ErrForbidden
	}
	resolved, err = Canonicalize(root, requestPath)
	if err != nil {
		return "", ErrForbidden
	}
	if !WithinRoot(root, resolved) {
		return "", ErrForbidden
	}
	return resolved, nil
}
