package migrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wardenbot/warden/internal/schema"
)

// ErrNotConfirmed means a drop was attempted without a valid confirmation
// token. It gates destructive action, it is not a true failure.
var ErrNotConfirmed = errors.New("drop not confirmed")

// dropRequestTTL bounds how long a confirmation token stays redeemable.
const dropRequestTTL = 5 * time.Minute

// DropRequest is the first phase of a table drop. The caller must present
// its token to ConfirmDrop before anything destructive happens.
type DropRequest struct {
	Token     string
	Table     string
	requested time.Time
}

// DropWarning is a non-fatal problem encountered during a confirmed drop.
// The end state is still the desired one, but the operator may need to act.
type DropWarning struct {
	Table   string
	Message string
}

// Dropper reverses a table's existence and purges its migration history.
// Drops are a deliberate two-phase gate: RequestDrop issues a token,
// ConfirmDrop redeems it.
type Dropper struct {
	db           Execer
	store        *Store
	queryTimeout time.Duration

	mu      sync.Mutex
	pending map[string]DropRequest
}

// NewDropper creates a dropper over the given database and store.
func NewDropper(db Execer, store *Store, queryTimeout time.Duration) *Dropper {
	return &Dropper{
		db:           db,
		store:        store,
		queryTimeout: queryTimeout,
		pending:      make(map[string]DropRequest),
	}
}

// RequestDrop stages a drop of the named table and returns a confirmation
// token. Nothing is touched until the token is redeemed.
func (d *Dropper) RequestDrop(table string) (DropRequest, error) {
	if !schema.ValidIdentifier(table) {
		return DropRequest{}, fmt.Errorf("invalid table name %q", table)
	}
	req := DropRequest{
		Token:     uuid.NewString(),
		Table:     table,
		requested: time.Now(),
	}
	d.mu.Lock()
	d.pending[req.Token] = req
	d.mu.Unlock()
	return req, nil
}

// ConfirmDrop redeems a confirmation token: it drops the live table, then
// removes the table's entire snapshot history and pointer. An unknown or
// expired token fails with ErrNotConfirmed.
//
// The live drop is best-effort: a missing table is a warning, since the end
// state is the desired one either way. A store-removal failure after a
// successful live drop is also a warning, with guidance to clean up the
// persisted history manually; retrying automatically could delete unrelated
// state if the table name were reused in the interim.
func (d *Dropper) ConfirmDrop(ctx context.Context, token string) ([]DropWarning, error) {
	d.mu.Lock()
	req, ok := d.pending[token]
	if ok {
		delete(d.pending, token)
	}
	d.mu.Unlock()

	if !ok || time.Since(req.requested) > dropRequestTTL {
		return nil, ErrNotConfirmed
	}

	var warnings []DropWarning

	stmt, err := schema.BuildDropTableDDL(req.Table)
	if err != nil {
		return nil, err
	}
	execCtx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()
	if _, err := d.db.Exec(execCtx, stmt); err != nil {
		if !isMissingTableError(err) {
			return warnings, fmt.Errorf("drop table %s: %w", req.Table, err)
		}
		warnings = append(warnings, DropWarning{
			Table:   req.Table,
			Message: "live table did not exist; removed migration history only",
		})
		log.Printf("[DROP] %s: live table did not exist", req.Table)
	}

	if err := d.store.RemoveTable(req.Table); err != nil {
		warnings = append(warnings, DropWarning{
			Table: req.Table,
			Message: fmt.Sprintf(
				"live table dropped but migration history removal failed (%v); delete the %s history and current files manually",
				err, req.Table),
		})
	}
	return warnings, nil
}

func isMissingTableError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}
