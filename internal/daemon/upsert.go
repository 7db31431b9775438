package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/localidx/fileidx/internal/hashfs"
	"github.com/localidx/fileidx/internal/index"
)

// upsert handles a single Created or Updated path: read its live metadata,
// hash it if it's a file, and insert it, treating any existing row as
// replace-in-place (index.Store.Insert is an upsert by construction).
// Symlinks are skipped, matching the scanner's reconciliation pass: neither
// path indexes a symlink under its own metadata or the metadata of whatever
// it resolves to.
func upsert(root string, store *index.Store, hash hashfs.Func, relPath string) error {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%s: symlinks are not indexed", relPath)
	}

	rec := index.FileRecord{
		Path:  relPath,
		IsDir: info.IsDir(),
		MTime: info.ModTime().Unix(),
		Size:  info.Size(),
	}
	if !rec.IsDir {
		digest, err := hash(abs)
		if err != nil {
			return err
		}
		rec.Hash = digest
	}
	return store.Insert(rec)
}
