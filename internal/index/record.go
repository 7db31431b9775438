// Package index implements the persistent path-to-metadata store: a
// SQLite-backed table of FileRecords keyed by path, with a transient mark bit
// used by the scanner's mark/sweep reconciliation pass.
package index

// FileRecord is the metadata held for a single filesystem entry under the
// watched root. Path is always relative to the server's working directory
// and uses forward slashes regardless of host platform.
type FileRecord struct {
	// Path is the primary key: a UTF-8 path relative to the working
	// directory.
	Path string
	// Hash is the 64-bit content digest, hex-encoded. Empty for
	// directories.
	Hash string
	// MTime is the modification time, in seconds since the epoch. Zero for
	// directories.
	MTime int64
	// Size is the file size in bytes. Zero for directories.
	Size int64
	// IsDir reports whether the entry is a directory.
	IsDir bool
	// Marked is the transient sweep bit. It is never exposed outside the
	// store: callers that read records out of the store always see it
	// cleared, since it has no meaning to anything but the reconciliation
	// pass that is currently running.
	Marked bool
}

// normalize enforces the directory invariant: a directory record never
// carries file metadata, regardless of what ended up in the underlying row.
func (r FileRecord) normalize() FileRecord {
	if r.IsDir {
		r.Hash = ""
		r.MTime = 0
		r.Size = 0
	}
	r.Marked = false
	return r
}

// Equivalent is the equality used by reconciliation: it ignores Hash and
// compares IsDir for directories, (MTime, Size) for files.
func (r FileRecord) Equivalent(other FileRecord) bool {
	if r.IsDir || other.IsDir {
		return r.IsDir == other.IsDir
	}
	return r.MTime == other.MTime && r.Size == other.Size
}
