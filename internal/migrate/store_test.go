package migrate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wardenbot/warden/internal/schema"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func testDef(cols ...string) schema.Table {
	def := schema.Table{Name: "profiles", Extension: "profiles"}
	for _, col := range cols {
		def.Columns = append(def.Columns, schema.Column{Name: col, DataType: "text", Nullable: true})
	}
	return def
}

func TestLoadSnapshotsEmptyWhenMissing(t *testing.T) {
	store := testStore(t)
	snaps, err := store.LoadSnapshots("profiles")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("expected empty history, got %d snapshots", len(snaps))
	}
	version, err := store.CurrentVersion("profiles")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected version 0, got %d", version)
	}
}

func TestAppendSnapshotMonotonicVersions(t *testing.T) {
	store := testStore(t)

	snap, err := store.AppendSnapshot("profiles", testDef("id"), 0)
	if err != nil {
		t.Fatalf("append v1: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("expected version 1, got %d", snap.Version)
	}

	snap, err = store.AppendSnapshot("profiles", testDef("id", "name"), 1)
	if err != nil {
		t.Fatalf("append v2: %v", err)
	}
	if snap.Version != 2 {
		t.Fatalf("expected version 2, got %d", snap.Version)
	}

	snaps, err := store.LoadSnapshots("profiles")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, s := range snaps {
		if s.Version != i+1 {
			t.Fatalf("expected version %d at position %d, got %d", i+1, i, s.Version)
		}
	}
}

func TestAppendSnapshotDetectsConcurrentWriter(t *testing.T) {
	store := testStore(t)
	if _, err := store.AppendSnapshot("profiles", testDef("id"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A writer that read the history before the append above must fail.
	_, err := store.AppendSnapshot("profiles", testDef("id", "other"), 0)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestCorruptHistoryIsFatal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "profiles.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt history: %v", err)
	}

	if _, err := store.LoadSnapshots("profiles"); !errors.Is(err, ErrStoreCorrupt) {
		t.Fatalf("expected ErrStoreCorrupt, got %v", err)
	}
}

func TestCorruptVersionSequenceIsFatal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mangled := `{"table":"profiles","snapshots":[{"version":3,"table":{"name":"profiles"}}]}`
	if err := os.WriteFile(filepath.Join(dir, "profiles.json"), []byte(mangled), 0o644); err != nil {
		t.Fatalf("write history: %v", err)
	}

	if _, err := store.LoadSnapshots("profiles"); !errors.Is(err, ErrStoreCorrupt) {
		t.Fatalf("expected ErrStoreCorrupt, got %v", err)
	}
}

func TestAdvancePointer(t *testing.T) {
	store := testStore(t)
	if _, err := store.AppendSnapshot("profiles", testDef("id"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.AdvancePointer("profiles", 2); err == nil {
		t.Fatal("expected error advancing past history")
	}
	if err := store.AdvancePointer("profiles", 1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	version, err := store.CurrentVersion("profiles")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}
}

func TestRemoveTableDeletesHistoryAndPointer(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.AppendSnapshot("profiles", testDef("id"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AdvancePointer("profiles", 1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := store.RemoveTable("profiles"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	for _, name := range []string{"profiles.json", "current-profiles.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be deleted", name)
		}
	}

	// Removing an absent table is not an error.
	if err := store.RemoveTable("profiles"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
}
