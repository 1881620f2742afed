package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wardenbot/warden/internal/schema"
)

var (
	// ErrStoreCorrupt means the persisted migration history cannot be
	// deserialized. The source of truth for applied DDL is untrustworthy, so
	// callers must treat this as fatal and never attempt auto-repair.
	ErrStoreCorrupt = errors.New("migration store corrupt")

	// ErrConcurrentModification means another writer advanced a table's
	// snapshot sequence since it was last read. The operator can re-run the
	// command; it is not retried internally.
	ErrConcurrentModification = errors.New("concurrent migration store modification")
)

// Snapshot is a versioned description of a table's schema as it existed when
// a migration was generated. Snapshots are append-only and never mutated.
type Snapshot struct {
	Version     int          `json:"version"`
	Table       schema.Table `json:"table"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

type history struct {
	Table     string     `json:"table"`
	Snapshots []Snapshot `json:"snapshots"`
}

type pointer struct {
	Version int `json:"version"`
}

// Store is a durable, human-inspectable record of what schema state has been
// applied per table. Each table gets a history file plus a separate current
// file recording which version is live, both derived from the table name.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) historyPath(table string) string {
	return filepath.Join(s.dir, table+".json")
}

func (s *Store) pointerPath(table string) string {
	return filepath.Join(s.dir, "current-"+table+".json")
}

// LoadSnapshots returns the ordered snapshot sequence for a table, empty if
// none exist. An unreadable history fails with ErrStoreCorrupt.
func (s *Store) LoadSnapshots(table string) ([]Snapshot, error) {
	data, err := os.ReadFile(s.historyPath(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history for %s: %w", table, err)
	}
	var h history
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: history for %s: %v", ErrStoreCorrupt, table, err)
	}
	for i, snap := range h.Snapshots {
		if snap.Version != i+1 {
			return nil, fmt.Errorf("%w: history for %s: version %d at position %d",
				ErrStoreCorrupt, table, snap.Version, i)
		}
	}
	return h.Snapshots, nil
}

// CurrentVersion returns the most recently applied snapshot version for a
// table, or 0 if no pointer exists.
func (s *Store) CurrentVersion(table string) (int, error) {
	data, err := os.ReadFile(s.pointerPath(table))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read current pointer for %s: %w", table, err)
	}
	var p pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("%w: current pointer for %s: %v", ErrStoreCorrupt, table, err)
	}
	return p.Version, nil
}

// AppendSnapshot writes def as the next snapshot version after
// expectedVersion and returns it. If another writer has advanced the
// sequence past expectedVersion since it was last read, it fails with
// ErrConcurrentModification and writes nothing.
func (s *Store) AppendSnapshot(table string, def schema.Table, expectedVersion int) (Snapshot, error) {
	snaps, err := s.LoadSnapshots(table)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) != expectedVersion {
		return Snapshot{}, fmt.Errorf("%w: %s at version %d, expected %d",
			ErrConcurrentModification, table, len(snaps), expectedVersion)
	}

	snap := Snapshot{
		Version:     expectedVersion + 1,
		Table:       def,
		GeneratedAt: time.Now().UTC(),
	}
	h := history{Table: table, Snapshots: append(snaps, snap)}
	if err := s.writeJSON(s.historyPath(table), h); err != nil {
		return Snapshot{}, fmt.Errorf("write history for %s: %w", table, err)
	}
	return snap, nil
}

// AdvancePointer records version as the live schema for a table. It must be
// the last step of a successful apply, after the DDL is confirmed applied.
func (s *Store) AdvancePointer(table string, version int) error {
	snaps, err := s.LoadSnapshots(table)
	if err != nil {
		return err
	}
	if version < 1 || version > len(snaps) {
		return fmt.Errorf("advance pointer for %s: version %d not in history", table, version)
	}
	if err := s.writeJSON(s.pointerPath(table), pointer{Version: version}); err != nil {
		return fmt.Errorf("write current pointer for %s: %w", table, err)
	}
	return nil
}

// RemoveTable deletes the entire snapshot history and pointer for a table.
// Used only by the dropper. The pointer goes first: a crash between the two
// removals then leaves history without a pointer, which a later apply treats
// as re-runnable, instead of a pointer referencing missing history.
func (s *Store) RemoveTable(table string) error {
	var firstErr error
	for _, path := range []string{s.pointerPath(table), s.historyPath(table)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", path, err)
			}
		}
	}
	return firstErr
}

// writeJSON writes atomically via a temp file and rename so a crash never
// leaves a half-written history behind.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
