package migrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wardenbot/warden/internal/schema"
)

// Execer executes a single SQL statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TableResult reports the outcome of one table's migration. Each table is an
// independent unit of work; a failure here never aborts sibling tables.
type TableResult struct {
	Table      string
	Extension  string
	Statements []string
	Version    int
	Err        error
}

// Created reports whether this run created the table for the first time.
func (r TableResult) Created() bool {
	return r.Err == nil && r.Version == 1 && len(r.Statements) > 0
}

// Applier diffs declared definitions against the migration store and
// executes the DDL needed to bring the live database up to date.
type Applier struct {
	db           Execer
	store        *Store
	queryTimeout time.Duration

	// Verbose controls per-statement logging.
	Verbose bool
}

// NewApplier creates an applier over the given database and store.
func NewApplier(db Execer, store *Store, queryTimeout time.Duration) *Applier {
	return &Applier{db: db, store: store, queryTimeout: queryTimeout, Verbose: true}
}

// Apply runs the migration algorithm once per definition, in the given
// order. DDL failures are reported per table and do not stop the remaining
// tables. A corrupt store aborts the whole run: the record of what DDL has
// run is untrustworthy and must not be repaired automatically.
func (a *Applier) Apply(ctx context.Context, defs []schema.Table) ([]TableResult, error) {
	results := make([]TableResult, 0, len(defs))
	for _, def := range defs {
		res := a.applyTable(ctx, def)
		results = append(results, res)
		if errors.Is(res.Err, ErrStoreCorrupt) {
			return results, res.Err
		}
		if res.Err != nil {
			log.Printf("[MIGRATE] %s failed: %v", def.Name, res.Err)
		}
	}
	return results, nil
}

func (a *Applier) applyTable(ctx context.Context, def schema.Table) TableResult {
	res := TableResult{Table: def.Name, Extension: def.Extension}

	if err := def.Validate(); err != nil {
		res.Err = err
		return res
	}

	snaps, err := a.store.LoadSnapshots(def.Name)
	if err != nil {
		res.Err = err
		return res
	}
	current, err := a.store.CurrentVersion(def.Name)
	if err != nil {
		res.Err = err
		return res
	}

	if len(snaps) == 0 {
		return a.createTable(ctx, def)
	}

	// Diff against the snapshot the pointer says is live. A zero pointer
	// with existing history means a previous apply crashed between DDL and
	// pointer advancement; the diff then regenerates the full creation DDL
	// and the inert-statement check below absorbs what already ran.
	var applied schema.Table
	if current > 0 {
		applied = snaps[current-1].Table
	} else {
		applied = schema.Table{Name: def.Name}
	}

	changes := schema.Diff(applied, def)
	if len(changes) == 0 && current == len(snaps) {
		res.Version = current
		if a.Verbose {
			log.Printf("[MIGRATE] %s is up to date at version %d", def.Name, current)
		}
		return res
	}

	var stmts []string
	if current == 0 {
		stmt, err := schema.BuildCreateTableDDL(def)
		if err != nil {
			res.Err = err
			return res
		}
		stmts = append(stmts, stmt)
		for _, ix := range def.Indexes {
			stmt, err := schema.BuildCreateIndexDDL(def.Name, ix)
			if err != nil {
				res.Err = err
				return res
			}
			stmts = append(stmts, stmt)
		}
	} else {
		for _, change := range changes {
			stmt, err := change.DDL(def.Name)
			if err != nil {
				res.Err = err
				return res
			}
			stmts = append(stmts, stmt)
		}
	}

	if err := a.execAll(ctx, def.Name, stmts); err != nil {
		res.Statements = stmts
		res.Err = err
		return res
	}
	res.Statements = stmts

	version, err := a.recordApplied(def, snaps)
	if err != nil {
		res.Err = err
		return res
	}
	res.Version = version
	return res
}

func (a *Applier) createTable(ctx context.Context, def schema.Table) TableResult {
	res := TableResult{Table: def.Name, Extension: def.Extension}

	stmt, err := schema.BuildCreateTableDDL(def)
	if err != nil {
		res.Err = err
		return res
	}
	stmts := []string{stmt}
	for _, ix := range def.Indexes {
		stmt, err := schema.BuildCreateIndexDDL(def.Name, ix)
		if err != nil {
			res.Err = err
			return res
		}
		stmts = append(stmts, stmt)
	}

	if err := a.execAll(ctx, def.Name, stmts); err != nil {
		res.Statements = stmts
		res.Err = err
		return res
	}
	res.Statements = stmts

	if _, err := a.store.AppendSnapshot(def.Name, def, 0); err != nil {
		res.Err = err
		return res
	}
	if err := a.store.AdvancePointer(def.Name, 1); err != nil {
		res.Err = err
		return res
	}
	res.Version = 1
	return res
}

// recordApplied appends a snapshot matching the declared definition and
// advances the pointer to it. If the latest generated snapshot already
// matches (a prior run crashed before advancing), it is reused rather than
// duplicated.
func (a *Applier) recordApplied(def schema.Table, snaps []Snapshot) (int, error) {
	latest := snaps[len(snaps)-1]
	if tableEqual(latest.Table, def) {
		if err := a.store.AdvancePointer(def.Name, latest.Version); err != nil {
			return 0, err
		}
		return latest.Version, nil
	}

	snap, err := a.store.AppendSnapshot(def.Name, def, len(snaps))
	if err != nil {
		return 0, err
	}
	if err := a.store.AdvancePointer(def.Name, snap.Version); err != nil {
		return 0, err
	}
	return snap.Version, nil
}

func (a *Applier) execAll(ctx context.Context, table string, stmts []string) error {
	for _, stmt := range stmts {
		if a.Verbose {
			log.Printf("[MIGRATE] %s: %s", table, stmt)
		}
		if err := a.exec(ctx, stmt); err != nil {
			if IsInertDDLError(err) {
				log.Printf("[MIGRATE] %s: already in effect: %s", table, stmt)
				continue
			}
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (a *Applier) exec(ctx context.Context, stmt string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := a.db.Exec(ctx, stmt)
	return err
}

// withTimeout returns a context with the query timeout applied. A parent
// deadline sooner than the timeout is preserved.
func (a *Applier) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		if time.Until(deadline) <= a.queryTimeout {
			return context.WithCancel(parent)
		}
	}
	return context.WithTimeout(parent, a.queryTimeout)
}

// IsInertDDLError reports whether the error indicates the statement's end
// state is already in effect, so re-running it is safe to treat as success.
func IsInertDDLError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") ||
		strings.Contains(value, "duplicate column")
}

func tableEqual(a, b schema.Table) bool {
	return len(schema.Diff(a, b)) == 0 && len(schema.Diff(b, a)) == 0
}
