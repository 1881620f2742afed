package profiles

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wardenbot/warden/internal/gateway"
)

type fakeDB struct {
	queries []string
	args    [][]any
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
	return pgconn.CommandTag{}, nil
}

type fakeCache map[uint64]gateway.Entity

func (c fakeCache) Entity(id uint64) (gateway.Entity, bool) {
	e, ok := c[id]
	return e, ok
}

func writeLegacy(t *testing.T, dir string, records any) {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal legacy records: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "profiles.json"), data, 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
}

func TestTablesDeclaration(t *testing.T) {
	ext := New("legacy")
	tables := ext.Tables()
	if len(tables) != 1 || tables[0].Name != "profiles" {
		t.Fatalf("unexpected tables %+v", tables)
	}
	if err := tables[0].Validate(); err != nil {
		t.Fatalf("declared table must validate: %v", err)
	}
	extra, ok := tables[0].Column("extra")
	if !ok || extra.Default == nil || *extra.Default != "'{}'::jsonb" {
		t.Fatalf("unexpected extra column %+v", extra)
	}
}

func TestImportFiltersUnresolvableMembers(t *testing.T) {
	dir := t.TempDir()
	nnid := "danny123"
	writeLegacy(t, dir, []legacyRecord{
		{UserID: 100, NNID: &nnid, Extra: json.RawMessage(`{"theme":"dark"}`)},
		{UserID: 200},
	})

	ext := New(dir)
	db := &fakeDB{}
	cache := fakeCache{100: {ID: 100, Name: "Danny"}}

	units := ext.ImportUnits()
	if len(units) != 1 || units[0].Name != "profiles" {
		t.Fatalf("unexpected units %+v", units)
	}
	if err := units[0].Run(context.Background(), db, cache); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(db.queries) != 1 {
		t.Fatalf("expected a single replace statement, got %d", len(db.queries))
	}
	if !strings.Contains(db.queries[0], "DELETE FROM profiles") ||
		!strings.Contains(db.queries[0], "INSERT INTO profiles") {
		t.Fatalf("expected purge and insert in one statement, got %q", db.queries[0])
	}

	var rows []importRow
	if err := json.Unmarshal([]byte(db.args[0][0].(string)), &rows); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 100 {
		t.Fatalf("unresolvable member must be skipped, got %+v", rows)
	}
	if rows[0].NNID == nil || *rows[0].NNID != "danny123" {
		t.Fatalf("unexpected nnid %+v", rows[0].NNID)
	}
	if string(rows[0].Extra) != `{"theme":"dark"}` {
		t.Fatalf("unexpected extra %s", rows[0].Extra)
	}
}

func TestImportDefaultsMissingExtra(t *testing.T) {
	dir := t.TempDir()
	writeLegacy(t, dir, []legacyRecord{{UserID: 100}})

	ext := New(dir)
	db := &fakeDB{}
	cache := fakeCache{100: {ID: 100, Name: "Danny"}}

	if err := ext.ImportUnits()[0].Run(context.Background(), db, cache); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rows []importRow
	if err := json.Unmarshal([]byte(db.args[0][0].(string)), &rows); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(rows[0].Extra) != `{}` {
		t.Fatalf("expected empty object extra, got %s", rows[0].Extra)
	}
}

func TestImportMissingLegacyFile(t *testing.T) {
	ext := New(t.TempDir())
	db := &fakeDB{}

	err := ext.ImportUnits()[0].Run(context.Background(), db, fakeCache{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected missing-file error, got %v", err)
	}
	if len(db.queries) != 0 {
		t.Fatalf("nothing may execute without legacy data, got %v", db.queries)
	}
}
