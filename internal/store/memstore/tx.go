package memstore

import (
	"context"
	"errors"
	"time"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

var errWrongTx = errors.New("tx does not belong to this store")

// Tx is a scoped, copy-on-write transaction (§9 "Transaction scope as a
// value"). All reads and writes during a restore run through it; nothing
// is visible to other readers until Commit swaps the staged state in.
type Tx struct {
	store  *Store
	staged map[string][]*version
	now    time.Time
	done   bool
}

func (t *Tx) upsertBatch(kind, pk string, records []types.Record) (store.UpsertResult, error) {
	if t.done {
		return store.UpsertResult{}, errors.New("transaction already finished")
	}
	var res store.UpsertResult
	versions := t.staged[kind]
	index := make(map[string]*version, len(versions))
	for _, v := range versions {
		if v.current() {
			index[v.key] = v
		}
	}
	for _, r := range records {
		key, ok := (types.EntityKind{PrimaryKey: pk}).PK(r)
		if !ok {
			return res, errors.New("record missing primary key")
		}
		clean := types.StripProvenance(r)
		if existing, ok := index[key]; ok {
			existing.rowEnd = t.now
			res.Updated++
		} else {
			res.Inserted++
		}
		nv := &version{key: key, data: clean, rowStart: t.now, rowEnd: openEnd}
		versions = append(versions, nv)
		index[key] = nv
	}
	t.staged[kind] = versions
	return res, nil
}

// Query implements store.Tx: a read of kind's current snapshot inside the
// transaction's staged state.
func (t *Tx) Query(_ context.Context, kind string, filters store.Filters) ([]types.Record, error) {
	var out []types.Record
	for _, v := range t.staged[kind] {
		if v.current() && matches(v.data, filters) {
			out = append(out, cloneRecord(v.data))
		}
	}
	return out, nil
}

// Commit swaps the staged state into the live store atomically.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.kinds = t.staged
	t.done = true
	return nil
}

// Rollback discards the staged state; the live store is untouched.
func (t *Tx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}
