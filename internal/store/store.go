// Package store defines the Temporal Store Adapter contract (§4.A): the
// thin interface the store-reading components (Health, Finder, Classifier,
// Validator, Executor) are written against; the Diff Engine works on
// record slices and does not use it. Concrete implementations live in
// sub-packages (dolt for the production backend, memstore for tests).
package store

import (
	"context"
	"time"

	"github.com/flightvault/recovery/internal/types"
)

// Filters narrows a snapshot read to matching field values. A nil or empty
// Filters matches every record.
type Filters map[string]any

// AuditEntry is one version from the audit trail (§4.A), annotated with
// the provenance fields a plain Record would otherwise lack.
type AuditEntry struct {
	Record    types.Record
	ChangedAt time.Time
	ValidFrom time.Time
	ValidTo   time.Time
	Status    types.Status
}

// BetweenEntry is one version active during a between-range query, keeping
// its own validity interval.
type BetweenEntry struct {
	Record    types.Record
	RowStart  time.Time
	RowEnd    time.Time
}

// UpsertResult reports how many records an upsert_batch call touched.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// Adapter is the abstract contract over a versioned store (§4.A). All
// methods take a kind name, not an EntityKind value: the adapter only
// needs to know how to address rows, not how to interpret them — that is
// the registry's job.
type Adapter interface {
	// AsOf returns the snapshot of kind at instant t.
	AsOf(ctx context.Context, kind string, t time.Time, filters Filters) ([]types.Record, error)
	// Current returns the snapshot of kind at "now".
	Current(ctx context.Context, kind string, filters Filters) ([]types.Record, error)
	// Between returns every version that started before t2 and is still
	// open or ended after t1, each carrying its own validity interval.
	Between(ctx context.Context, kind string, t1, t2 time.Time) ([]BetweenEntry, error)
	// Audit returns up to limit versions in reverse chronological order of
	// row_start, each annotated with changed_at/valid_until/status.
	Audit(ctx context.Context, kind string, limit int) ([]AuditEntry, error)
	// UpsertBatch inserts-or-replaces records by primary key within tx.
	// pk names the kind's primary-key field. Provenance fields in records
	// are ignored; historical versions are preserved by the store.
	UpsertBatch(ctx context.Context, tx Tx, kind, pk string, records []types.Record) (UpsertResult, error)

	// TxBegin opens a scoped transaction handle.
	TxBegin(ctx context.Context) (Tx, error)
}

// Tx is a scoped transaction handle (§9 "Transaction scope as a value").
// All reads and writes the Executor performs during a restore run through
// the same Tx so that validation and mutation observe one consistent view.
type Tx interface {
	// Query runs a read inside the transaction. Used by the Executor's
	// per-batch and final integrity gates.
	Query(ctx context.Context, kind string, filters Filters) ([]types.Record, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
