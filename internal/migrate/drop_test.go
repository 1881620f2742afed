package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wardenbot/warden/internal/schema"
)

func testDropper(t *testing.T, db Execer) (*Dropper, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return NewDropper(db, store, time.Second), store
}

func TestConfirmDropRequiresValidToken(t *testing.T) {
	db := &fakeExecer{}
	d, _ := testDropper(t, db)

	if _, err := d.ConfirmDrop(context.Background(), "nope"); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if len(db.stmts) != 0 {
		t.Fatalf("nothing may execute without confirmation, got %v", db.stmts)
	}
}

func TestConfirmDropExecutesAndPurgesHistory(t *testing.T) {
	db := &fakeExecer{}
	d, store := testDropper(t, db)

	if _, err := store.AppendSnapshot("profiles", testDef("id"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AdvancePointer("profiles", 1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	req, err := d.RequestDrop("profiles")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	warnings, err := d.ConfirmDrop(context.Background(), req.Token)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	if len(db.stmts) != 1 || db.stmts[0] != `DROP TABLE "profiles"` {
		t.Fatalf("unexpected statements %v", db.stmts)
	}

	snaps, err := store.LoadSnapshots("profiles")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("history must be purged, got %d snapshots", len(snaps))
	}
	version, err := store.CurrentVersion("profiles")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if version != 0 {
		t.Fatalf("pointer must be purged, got version %d", version)
	}

	// A later apply of the same table starts over as a first-time creation.
	db.stmts = nil
	applier := NewApplier(db, store, time.Second)
	applier.Verbose = false
	results, err := applier.Apply(context.Background(), []schema.Table{testDef("id")})
	if err != nil {
		t.Fatalf("apply after drop: %v", err)
	}
	if !results[0].Created() || results[0].Version != 1 {
		t.Fatalf("expected first-time creation at version 1, got %+v", results[0])
	}
	if len(db.stmts) != 1 || !strings.HasPrefix(db.stmts[0], "CREATE TABLE") {
		t.Fatalf("unexpected statements %v", db.stmts)
	}
}

func TestConfirmDropTokenIsSingleUse(t *testing.T) {
	db := &fakeExecer{}
	d, _ := testDropper(t, db)

	req, err := d.RequestDrop("profiles")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := d.ConfirmDrop(context.Background(), req.Token); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := d.ConfirmDrop(context.Background(), req.Token); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected spent token to fail, got %v", err)
	}
}

func TestConfirmDropMissingLiveTableIsWarning(t *testing.T) {
	db := &fakeExecer{
		failOn:  "DROP TABLE",
		failErr: errors.New(`table "profiles" does not exist`),
	}
	d, _ := testDropper(t, db)

	req, err := d.RequestDrop("profiles")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	warnings, err := d.ConfirmDrop(context.Background(), req.Token)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0].Message, "did not exist") {
		t.Fatalf("expected missing-table warning, got %+v", warnings)
	}
}

func TestConfirmDropOtherExecErrorIsFatal(t *testing.T) {
	db := &fakeExecer{
		failOn:  "DROP TABLE",
		failErr: errors.New("permission denied for table profiles"),
	}
	d, _ := testDropper(t, db)

	req, err := d.RequestDrop("profiles")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := d.ConfirmDrop(context.Background(), req.Token); err == nil {
		t.Fatal("expected exec failure to surface")
	}
}

func TestRequestDropRejectsInvalidName(t *testing.T) {
	d, _ := testDropper(t, &fakeExecer{})
	if _, err := d.RequestDrop("Bad;Name"); err == nil {
		t.Fatal("expected invalid identifier to be rejected")
	}
}
