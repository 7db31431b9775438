package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaVersion is the value stored in meta.version. Bumping it gates future
// migrations; today's implementation simply refuses to open a store carrying
// any other value.
const schemaVersion = "1"

const createSchemaSQL = `
CREATE TABLE "files" (
	"path"   TEXT NOT NULL,
	"hash"   TEXT,
	"mtime"  INTEGER NOT NULL DEFAULT 0,
	"size"   INTEGER NOT NULL DEFAULT 0,
	"is_dir" INTEGER NOT NULL DEFAULT 0,
	"marked" INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY("path")
);
CREATE TABLE "meta" (
	"key" TEXT NOT NULL,
	"value" TEXT
);
`

// ErrSchemaMismatch indicates that an existing store file's meta.version row
// is missing or does not match schemaVersion. It is fatal to open.
var ErrSchemaMismatch = errors.New("index: schema version mismatch")

// StoreError wraps an I/O or SQL failure against the index file, per the
// StoreError category in the error taxonomy.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("index store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store is the single-owner handle onto the persistent index file. It enforces
// no internal concurrency of its own: the single-writer guarantee comes from
// only the index daemon ever holding a *Store, never from locking here.
type Store struct {
	db *sql.DB
}

// Open creates the store file if absent, initializing the schema and version
// row on first creation, and returns a handle to it. It is fatal (returns
// ErrSchemaMismatch) if an existing file lacks a valid version row.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// The store is only ever touched by the daemon's single goroutine; one
	// connection avoids SQLite's concurrent-writer locking entirely.
	db.SetMaxOpenConns(1)

	hasMeta, err := tableExists(db, "meta")
	if err != nil {
		db.Close()
		return nil, wrap("open", err)
	}

	if !hasMeta {
		if _, err := db.Exec(createSchemaSQL); err != nil {
			db.Close()
			return nil, wrap("create schema", err)
		}
		if _, err := db.Exec(`INSERT INTO "meta" ("key", "value") VALUES ('version', ?)`, schemaVersion); err != nil {
			db.Close()
			return nil, wrap("write schema version", err)
		}
	} else {
		var version string
		err := db.QueryRow(`SELECT "value" FROM "meta" WHERE "key" = 'version'`).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, fmt.Errorf("%w: meta.version row missing", ErrSchemaMismatch)
		} else if err != nil {
			db.Close()
			return nil, wrap("read schema version", err)
		}
		if version != schemaVersion {
			db.Close()
			return nil, fmt.Errorf("%w: found %q, want %q", ErrSchemaMismatch, version, schemaVersion)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return wrap("close", s.db.Close())
}

// Lookup returns the record for path, if one exists.
func (s *Store) Lookup(p string) (FileRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT "path", "hash", "mtime", "size", "is_dir" FROM "files" WHERE "path" = ?`, p,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, false, nil
	} else if err != nil {
		return FileRecord{}, false, wrap("lookup", err)
	}
	return rec, true, nil
}

// normalizePrefix ensures a non-empty path used for prefix matching ends with
// a trailing slash. The empty path is left as is, so it matches every row.
func normalizePrefix(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// escapeLike escapes SQLite LIKE metacharacters (% and _) as well as the
// escape character itself, so that prefix queries can't be tricked into
// matching more than the literal path they were given.
func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

// LookupPrefix returns all records whose path begins with the given
// directory path plus "/" (the same rows a directory Delete cascades to); an
// empty dir returns every record.
func (s *Store) LookupPrefix(dir string) ([]FileRecord, error) {
	pattern := escapeLike(normalizePrefix(dir)) + "%"
	rows, err := s.db.Query(
		`SELECT "path", "hash", "mtime", "size", "is_dir" FROM "files" WHERE "path" LIKE ? ESCAPE '\'`,
		pattern,
	)
	if err != nil {
		return nil, wrap("lookup prefix", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrap("lookup prefix", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("lookup prefix", err)
	}
	return records, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which implement
// Scan with the same signature.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (FileRecord, error) {
	var rec FileRecord
	var hash sql.NullString
	var isDir int
	if err := row.Scan(&rec.Path, &hash, &rec.MTime, &rec.Size, &isDir); err != nil {
		return FileRecord{}, err
	}
	rec.Hash = hash.String
	rec.IsDir = isDir != 0
	return rec.normalize(), nil
}

// Insert adds a new record, or replaces an existing row in place if one is
// already present under the same path (the daemon's Created/Updated handling
// relies on insert being idempotent in this way). The row is always marked.
func (s *Store) Insert(rec FileRecord) error {
	rec = rec.normalize()
	_, err := s.db.Exec(
		`INSERT INTO "files" ("path", "hash", "mtime", "size", "is_dir", "marked") VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT("path") DO UPDATE SET "hash" = excluded."hash", "mtime" = excluded."mtime",
		 	"size" = excluded."size", "is_dir" = excluded."is_dir", "marked" = 1`,
		rec.Path, nullableHash(rec), rec.MTime, rec.Size, boolToInt(rec.IsDir),
	)
	return wrap("insert", err)
}

// Update replaces the mutable fields of an existing row and marks it.
func (s *Store) Update(rec FileRecord) error {
	rec = rec.normalize()
	_, err := s.db.Exec(
		`UPDATE "files" SET "hash" = ?, "mtime" = ?, "size" = ?, "is_dir" = ?, "marked" = 1 WHERE "path" = ?`,
		nullableHash(rec), rec.MTime, rec.Size, boolToInt(rec.IsDir), rec.Path,
	)
	return wrap("update", err)
}

// Mark sets the mark bit for an existing row. It is a no-op if the path is
// absent.
func (s *Store) Mark(p string) error {
	_, err := s.db.Exec(`UPDATE "files" SET "marked" = 1 WHERE "path" = ?`, p)
	return wrap("mark", err)
}

// ResetMarks clears the mark bit on every row, the pre-walk step of mark/sweep
// reconciliation.
func (s *Store) ResetMarks() error {
	_, err := s.db.Exec(`UPDATE "files" SET "marked" = 0`)
	return wrap("reset marks", err)
}

// DeleteUnmarked removes every row left unmarked, the post-walk step of
// mark/sweep reconciliation.
func (s *Store) DeleteUnmarked() error {
	_, err := s.db.Exec(`DELETE FROM "files" WHERE "marked" = 0`)
	return wrap("delete unmarked", err)
}

// Delete removes path from the store. If the store holds a record for path
// and it is a directory, every row under the prefix path+"/" is removed as
// well (the live filesystem entry is already gone by the time a Removed event
// reaches the store, so directory-ness is determined from the record that was
// there, not from a fresh stat). Otherwise the single matching row is removed.
func (s *Store) Delete(p string) error {
	rec, ok, err := s.Lookup(p)
	if err != nil {
		return err
	}
	if !ok {
		// Lookup already confirmed no row matches p; nothing to delete.
		return nil
	}
	if rec.IsDir {
		pattern := escapeLike(normalizePrefix(p)) + "%"
		_, err := s.db.Exec(`DELETE FROM "files" WHERE "path" LIKE ? ESCAPE '\'`, pattern)
		if err != nil {
			return wrap("delete", err)
		}
	}
	_, err = s.db.Exec(`DELETE FROM "files" WHERE "path" = ?`, p)
	return wrap("delete", err)
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRow(`SELECT "name" FROM "sqlite_master" WHERE "type" = 'table' AND "name" = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableHash(rec FileRecord) sql.NullString {
	return sql.NullString{String: rec.Hash, Valid: rec.Hash != ""}
}
