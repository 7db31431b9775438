// Package scanner implements the recursive reconciliation walk: a
// mark/sweep pass that reconciles the live filesystem tree with the
// persistent index, only recomputing a file's hash when its cheap
// (mtime, size) fingerprint has changed.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/localidx/fileidx/internal/hashfs"
	"github.com/localidx/fileidx/internal/index"
	"github.com/localidx/fileidx/internal/logging"
)

// Store is the subset of *index.Store the scanner depends on, so tests can
// substitute an in-memory fake.
type Store interface {
	Lookup(path string) (index.FileRecord, bool, error)
	Insert(rec index.FileRecord) error
	Update(rec index.FileRecord) error
	Mark(path string) error
	ResetMarks() error
	DeleteUnmarked() error
}

// Result summarizes a completed (or partially completed) scan. Errors holds
// one entry per path that could not be reconciled; none of them abort the
// walk.
type Result struct {
	Errors []error
}

// Scan walks root recursively and reconciles every visited entry against
// store: an absent record is inserted (hashing files, not directories); a
// present record that is fingerprint-equal is simply marked; a present
// record that differs is rehashed, updated, and logged. Walking order is the
// deterministic lexical order filepath.WalkDir provides.
func Scan(root string, store Store, hash hashfs.Func, logger *logging.Logger) (*Result, error) {
	if err := store.ResetMarks(); err != nil {
		return nil, fmt.Errorf("scanner: reset marks: %w", err)
	}

	result := &Result{}
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Permission-denied and similar per-entry errors are surfaced,
			// not silently dropped, but they don't abort the rest of the
			// walk.
			result.Errors = append(result.Errors, fmt.Errorf("scanner: walk %s: %w", p, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scanner: relativize %s: %w", p, err))
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scanner: stat %s: %w", rel, err))
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			result.Errors = append(result.Errors, fmt.Errorf("scanner: %s: symlinks are not indexed", rel))
			return nil
		}

		if err := reconcile(store, hash, logger, p, rel, info); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scanner: reconcile %s: %w", rel, err))
		}
		return nil
	})
	if walkErr != nil {
		return result, fmt.Errorf("scanner: walk %s: %w", root, walkErr)
	}

	if err := store.DeleteUnmarked(); err != nil {
		return result, fmt.Errorf("scanner: delete unmarked: %w", err)
	}
	return result, nil
}

// reconcile applies the single-entry reconciliation rules to one live
// filesystem entry. absPath is the real filesystem path
// (used for hashing); relPath is its root-relative, slash-normalized form
// (used as the index key).
func reconcile(store Store, hash hashfs.Func, logger *logging.Logger, absPath, relPath string, info fs.FileInfo) error {
	live := index.FileRecord{
		Path:  relPath,
		IsDir: info.IsDir(),
		MTime: info.ModTime().Unix(),
		Size:  info.Size(),
	}

	existing, ok, err := store.Lookup(relPath)
	if err != nil {
		return err
	}

	if !ok {
		if !live.IsDir {
			digest, err := hash(absPath)
			if err != nil {
				return err
			}
			live.Hash = digest
		}
		return store.Insert(live)
	}

	if existing.Equivalent(live) {
		return store.Mark(relPath)
	}

	// (mtime, size) diverged (or the directory flag flipped): rehash and
	// replace.
	if !live.IsDir {
		digest, err := hash(absPath)
		if err != nil {
			return err
		}
		live.Hash = digest
		if existing.Hash == live.Hash {
			logger.Info(relPath, "changed but hash is same")
		} else {
			logger.Info(relPath, "updated")
		}
	}
	return store.Update(live)
}
