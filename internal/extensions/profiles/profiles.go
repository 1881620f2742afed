// Package profiles is the extension backing member gaming profiles: friend
// codes, network IDs, squad, and free-form extra data.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/wardenbot/warden/internal/dataimport"
	"github.com/wardenbot/warden/internal/schema"
)

const tableName = "profiles"

func strptr(s string) *string { return &s }

// Extension declares the profiles table and its legacy import unit.
type Extension struct {
	legacyDir string
}

// New creates the profiles extension. legacyDir is where legacy JSON record
// files live.
func New(legacyDir string) *Extension {
	return &Extension{legacyDir: legacyDir}
}

// Name implements schema.Provider.
func (e *Extension) Name() string { return "profiles" }

// Tables implements schema.Provider.
func (e *Extension) Tables() []schema.Table {
	return []schema.Table{{
		Name: tableName,
		Columns: []schema.Column{
			{Name: "id", DataType: "bigint", Nullable: false},
			{Name: "nnid", DataType: "text", Nullable: true},
			{Name: "squad", DataType: "text", Nullable: true},
			{Name: "fc_3ds", DataType: "text", Nullable: true},
			{Name: "fc_switch", DataType: "text", Nullable: true},
			{Name: "extra", DataType: "jsonb", Nullable: false, Default: strptr("'{}'::jsonb")},
		},
		Indexes: []schema.Index{
			{Name: "profiles_id_idx", Columns: []string{"id"}, Unique: true},
		},
	}}
}

// ImportUnits implements extensions.Extension.
func (e *Extension) ImportUnits() []dataimport.Unit {
	return []dataimport.Unit{{
		Name: "profiles",
		Run:  e.importLegacy,
	}}
}

// legacyRecord is one entry of the old JSON profile store, keyed by the
// member's gateway identifier.
type legacyRecord struct {
	UserID   uint64          `json:"user_id"`
	NNID     *string         `json:"nnid"`
	Squad    *string         `json:"squad"`
	FC3DS    *string         `json:"fc_3ds"`
	FCSwitch *string         `json:"fc_switch"`
	Extra    json.RawMessage `json:"extra"`
}

type importRow struct {
	ID       uint64          `json:"id"`
	NNID     *string         `json:"nnid"`
	Squad    *string         `json:"squad"`
	FC3DS    *string         `json:"fc_3ds"`
	FCSwitch *string         `json:"fc_switch"`
	Extra    json.RawMessage `json:"extra"`
}

// importLegacy replaces the profiles table contents with the legacy records
// whose owners still resolve through the gateway cache. The purge and insert
// run as one statement, so a failure leaves the previous import intact.
func (e *Extension) importLegacy(ctx context.Context, db dataimport.DB, cache dataimport.EntityCache) error {
	records, err := loadLegacy(filepath.Join(e.legacyDir, "profiles.json"))
	if err != nil {
		return err
	}

	rows := make([]importRow, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if _, ok := cache.Entity(rec.UserID); !ok {
			skipped++
			continue
		}
		extra := rec.Extra
		if len(extra) == 0 {
			extra = json.RawMessage(`{}`)
		}
		rows = append(rows, importRow{
			ID:       rec.UserID,
			NNID:     rec.NNID,
			Squad:    rec.Squad,
			FC3DS:    rec.FC3DS,
			FCSwitch: rec.FCSwitch,
			Extra:    extra,
		})
	}
	if skipped > 0 {
		log.Printf("[IMPORT] profiles: skipped %d records with unresolvable members", skipped)
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode profile rows: %w", err)
	}

	query := `
		WITH purged AS (DELETE FROM profiles)
		INSERT INTO profiles (id, nnid, squad, fc_3ds, fc_switch, extra)
		SELECT r.id, r.nnid, r.squad, r.fc_3ds, r.fc_switch, COALESCE(r.extra, '{}'::jsonb)
		FROM jsonb_to_recordset($1::jsonb)
		  AS r(id bigint, nnid text, squad text, fc_3ds text, fc_switch text, extra jsonb)
	`
	if _, err := db.Exec(ctx, query, string(payload)); err != nil {
		return fmt.Errorf("import profiles: %w", err)
	}
	log.Printf("[IMPORT] profiles: imported %d records", len(rows))
	return nil
}

func loadLegacy(path string) ([]legacyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("legacy profile data not found at %s", path)
		}
		return nil, err
	}
	var records []legacyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}
