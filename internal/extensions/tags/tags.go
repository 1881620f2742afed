// Package tags is the extension backing named text snippets members can
// recall in chat.
package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/wardenbot/warden/internal/dataimport"
	"github.com/wardenbot/warden/internal/schema"
)

func strptr(s string) *string { return &s }

// Extension declares the tags table and its legacy import unit.
type Extension struct {
	legacyDir string
}

// New creates the tags extension.
func New(legacyDir string) *Extension {
	return &Extension{legacyDir: legacyDir}
}

// Name implements schema.Provider.
func (e *Extension) Name() string { return "tags" }

// Tables implements schema.Provider.
func (e *Extension) Tables() []schema.Table {
	return []schema.Table{{
		Name: "tags",
		Columns: []schema.Column{
			{Name: "id", DataType: "bigserial", Nullable: false},
			{Name: "name", DataType: "text", Nullable: false},
			{Name: "content", DataType: "text", Nullable: false},
			{Name: "owner_id", DataType: "bigint", Nullable: false},
			{Name: "uses", DataType: "integer", Nullable: false, Default: strptr("0")},
			{Name: "created_at", DataType: "timestamptz", Nullable: false, Default: strptr("now()")},
		},
		Indexes: []schema.Index{
			{Name: "tags_name_idx", Columns: []string{"name"}, Unique: true},
			{Name: "tags_owner_id_idx", Columns: []string{"owner_id"}},
		},
	}}
}

// ImportUnits implements extensions.Extension.
func (e *Extension) ImportUnits() []dataimport.Unit {
	return []dataimport.Unit{{
		Name: "tags",
		Run:  e.importLegacy,
	}}
}

type legacyTag struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	OwnerID uint64 `json:"owner_id"`
	Uses    int    `json:"uses"`
}

// importLegacy replaces the tags table contents with the legacy tags whose
// owners still resolve. Purge and insert run as one statement.
func (e *Extension) importLegacy(ctx context.Context, db dataimport.DB, cache dataimport.EntityCache) error {
	path := filepath.Join(e.legacyDir, "tags.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("legacy tag data: %w", err)
	}
	var tags []legacyTag
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	rows := tags[:0]
	skipped := 0
	for _, tag := range tags {
		if _, ok := cache.Entity(tag.OwnerID); !ok {
			skipped++
			continue
		}
		rows = append(rows, tag)
	}
	if skipped > 0 {
		log.Printf("[IMPORT] tags: skipped %d tags with unresolvable owners", skipped)
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode tag rows: %w", err)
	}

	query := `
		WITH purged AS (DELETE FROM tags)
		INSERT INTO tags (name, content, owner_id, uses)
		SELECT r.name, r.content, r.owner_id, COALESCE(r.uses, 0)
		FROM jsonb_to_recordset($1::jsonb)
		  AS r(name text, content text, owner_id bigint, uses integer)
	`
	if _, err := db.Exec(ctx, query, string(payload)); err != nil {
		return fmt.Errorf("import tags: %w", err)
	}
	log.Printf("[IMPORT] tags: imported %d tags", len(rows))
	return nil
}
