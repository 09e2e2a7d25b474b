//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

// tx implements store.Tx, scoping the Executor's reads and writes to one
// consistent view (§9 "Transaction scope as a value").
type tx struct {
	sqlTx *sql.Tx
	store *DoltStore
}

// TxBegin implements store.Adapter.
func (s *DoltStore) TxBegin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.StoreFailure("dolt.TxBegin", err)
	}
	return &tx{sqlTx: sqlTx, store: s}, nil
}

// Query implements store.Tx against the live table, within the scope of
// the open transaction.
func (t *tx) Query(ctx context.Context, kind string, filters store.Filters) ([]types.Record, error) {
	if err := validateIdentifier(kind); err != nil {
		return nil, err
	}
	//nolint:gosec // G201: kind validated by validateIdentifier above
	rows, err := t.sqlTx.QueryContext(ctx, fmt.Sprintf("SELECT data FROM `%s`", kind))
	if err != nil {
		return nil, fmt.Errorf("dolt: failed to query %q in transaction: %w", kind, err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec types.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("dolt: failed to decode %q row: %w", kind, err)
		}
		if matchesFilters(rec, filters) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// Commit implements store.Tx. A serialization conflict is wrapped as
// types.KindStoreFailure so the Executor's retry loop will retry it; any
// other commit error is wrapped as types.KindAborted since retrying the
// same restore set would just repeat it.
func (t *tx) Commit(ctx context.Context) error {
	if err := t.sqlTx.Commit(); err != nil {
		if isSerializationError(err) {
			return types.StoreFailure("dolt.Commit", err)
		}
		return types.Aborted("dolt.Commit", err)
	}
	return nil
}

// Rollback implements store.Tx.
func (t *tx) Rollback(ctx context.Context) error {
	if err := t.sqlTx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("dolt: rollback failed: %w", err)
	}
	return nil
}

// isSerializationError reports whether err is a Dolt/MySQL serialization
// conflict (error 1213 deadlock, 1105 generic "conflict") that is worth
// retrying at the caller's discretion — the Executor's own retry loop
// (internal/executor) decides whether to retry, this just classifies.
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1213") || strings.Contains(msg, "1105") ||
		strings.Contains(msg, "deadlock") || strings.Contains(msg, "conflict")
}
