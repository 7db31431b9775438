package index

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesSchema(t *testing.T) {
	store := openTestStore(t)
	if _, ok, err := store.Lookup("a.txt"); err != nil || ok {
		t.Fatalf("Lookup on empty store: ok=%v err=%v", ok, err)
	}
}

func TestOpenRejectsMismatchedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE "meta" SET "value" = '999' WHERE "key" = 'version'`); err != nil {
		t.Fatalf("failed to corrupt version: %v", err)
	}
	store.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to fail on schema mismatch")
	}
}

func TestInsertLookupRoundTrip(t *testing.T) {
	store := openTestStore(t)
	rec := FileRecord{Path: "a.txt", Hash: "deadbeef", MTime: 100, Size: 2}
	if err := store.Insert(rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, ok, err := store.Lookup("a.txt")
	if err != nil || !ok {
		t.Fatalf("Lookup failed: ok=%v err=%v", ok, err)
	}
	got.Marked = false
	if got != rec {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestInsertIsReplaceInPlace(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(FileRecord{Path: "a.txt", Hash: "old", MTime: 1, Size: 1}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := store.Insert(FileRecord{Path: "a.txt", Hash: "new", MTime: 2, Size: 2}); err != nil {
		t.Fatalf("second insert failed: %v", err)
	}

	got, ok, err := store.Lookup("a.txt")
	if err != nil || !ok {
		t.Fatalf("Lookup failed: ok=%v err=%v", ok, err)
	}
	if got.Hash != "new" || got.MTime != 2 || got.Size != 2 {
		t.Fatalf("insert did not replace in place: got %+v", got)
	}
}

func TestDirectoryRecordInvariant(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(FileRecord{Path: "b", IsDir: true, Hash: "ignored", MTime: 5, Size: 5}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	got, ok, err := store.Lookup("b")
	if err != nil || !ok {
		t.Fatalf("Lookup failed: ok=%v err=%v", ok, err)
	}
	if got.Hash != "" || got.MTime != 0 || got.Size != 0 {
		t.Fatalf("directory record invariant violated: %+v", got)
	}
}

func TestResetMarksScanDeleteUnmarkedIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(FileRecord{Path: "a.txt", MTime: 1, Size: 1}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := store.ResetMarks(); err != nil {
			t.Fatalf("pass %d: ResetMarks: %v", i, err)
		}
		if err := store.Mark("a.txt"); err != nil {
			t.Fatalf("pass %d: Mark: %v", i, err)
		}
		if err := store.DeleteUnmarked(); err != nil {
			t.Fatalf("pass %d: DeleteUnmarked: %v", i, err)
		}
		if _, ok, err := store.Lookup("a.txt"); err != nil || !ok {
			t.Fatalf("pass %d: expected a.txt to survive, ok=%v err=%v", i, ok, err)
		}
	}
}

func TestDeleteUnmarkedRemovesUnmarkedOnly(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(FileRecord{Path: "keep.txt", MTime: 1, Size: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(FileRecord{Path: "drop.txt", MTime: 1, Size: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.ResetMarks(); err != nil {
		t.Fatal(err)
	}
	if err := store.Mark("keep.txt"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteUnmarked(); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := store.Lookup("keep.txt"); !ok {
		t.Fatal("keep.txt should have survived the sweep")
	}
	if _, ok, _ := store.Lookup("drop.txt"); ok {
		t.Fatal("drop.txt should have been swept")
	}
}

func TestDeleteDirectoryCascadesToPrefix(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(FileRecord{Path: "b", IsDir: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(FileRecord{Path: "b/c.txt", MTime: 1, Size: 1}); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete("b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	records, err := store.LookupPrefix("b/")
	if err != nil {
		t.Fatalf("LookupPrefix failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty prefix match after directory delete, got %+v", records)
	}
	if _, ok, _ := store.Lookup("b"); ok {
		t.Fatal("expected directory row itself to be deleted")
	}
}

func TestLookupPrefixEscapesMetacharacters(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(FileRecord{Path: "a_b", IsDir: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(FileRecord{Path: "a_b/c.txt", MTime: 1, Size: 1}); err != nil {
		t.Fatal(err)
	}
	// "axb" must not match the "a_b/" prefix pattern, even though "_" is a
	// SQL LIKE wildcard for "any single character".
	if err := store.Insert(FileRecord{Path: "axb/c.txt", MTime: 1, Size: 1}); err != nil {
		t.Fatal(err)
	}

	records, err := store.LookupPrefix("a_b/")
	if err != nil {
		t.Fatalf("LookupPrefix failed: %v", err)
	}
	if len(records) != 1 || records[0].Path != "a_b/c.txt" {
		t.Fatalf("expected only a_b/c.txt to match, got %+v", records)
	}
}
