// Package memstore is a pure-Go, in-memory implementation of
// store.Adapter, grounded on the teacher's internal/storage/ephemeral
// pattern: a backing store implementing the same interface as the
// production (Dolt) adapter, used where tests need determinism and speed
// rather than a real engine. It gives every version its own validity
// interval so AsOf/Between/Audit behave like a real system-versioned
// table without requiring a running database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

// openEnd is this adapter's representation of the store's "open interval"
// sentinel (§6): a version whose RowEnd equals openEnd is CURRENT.
var openEnd = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

type version struct {
	key      string
	data     types.Record
	rowStart time.Time
	rowEnd   time.Time
}

func (v version) current() bool { return v.rowEnd.Equal(openEnd) }

func (v version) activeAt(t time.Time) bool {
	return !t.Before(v.rowStart) && t.Before(v.rowEnd)
}

// Store is an in-memory versioned table set, one []version per kind.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock
	kinds map[string][]*version
}

// New returns an empty Store. c supplies "now" for Current reads and for
// the timestamp TxBegin stamps on versions written through the transaction;
// the Seed/DeleteAt/UpdateAt helpers always take an explicit timestamp.
func New(c clock.Clock) *Store {
	return &Store{clock: c, kinds: make(map[string][]*version)}
}

// Seed inserts records as brand-new current versions effective at t.
// Intended for test setup, not part of store.Adapter.
func (s *Store) Seed(kind string, pk string, records []types.Record, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		key, _ := keyOf(r, pk)
		s.kinds[kind] = append(s.kinds[kind], &version{key: key, data: types.StripProvenance(r), rowStart: t, rowEnd: openEnd})
	}
}

// DeleteAt closes the current version of key at t, leaving no replacement —
// a deletion in the snapshot sense.
func (s *Store) DeleteAt(kind, key string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.kinds[kind] {
		if v.key == key && v.current() {
			v.rowEnd = t
			return
		}
	}
}

// UpdateAt closes the current version of key at t and opens a new one with
// the given data.
func (s *Store) UpdateAt(kind, key string, data types.Record, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.kinds[kind] {
		if v.key == key && v.current() {
			v.rowEnd = t
		}
	}
	s.kinds[kind] = append(s.kinds[kind], &version{key: key, data: types.StripProvenance(data), rowStart: t, rowEnd: openEnd})
}

func keyOf(r types.Record, pk string) (string, bool) {
	return (types.EntityKind{PrimaryKey: pk}).PK(r)
}

func matches(r types.Record, f store.Filters) bool {
	for k, want := range f {
		if got, ok := r[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func withProvenance(v *version) types.Record {
	out := make(types.Record, len(v.data)+3)
	for k, val := range v.data {
		out[k] = val
	}
	out["row_start"] = v.rowStart
	if v.current() {
		out["row_end"] = openEnd
		out["status"] = string(types.StatusCurrent)
	} else {
		out["row_end"] = v.rowEnd
		out["status"] = string(types.StatusHistorical)
	}
	out["changed_at"] = v.rowStart
	out["valid_until"] = v.rowEnd
	return out
}

// AsOf implements store.Adapter.
func (s *Store) AsOf(_ context.Context, kind string, t time.Time, filters store.Filters) ([]types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Record
	for _, v := range s.kinds[kind] {
		if v.activeAt(t) && matches(v.data, filters) {
			out = append(out, cloneRecord(v.data))
		}
	}
	return out, nil
}

// Current implements store.Adapter.
func (s *Store) Current(ctx context.Context, kind string, filters store.Filters) ([]types.Record, error) {
	return s.AsOf(ctx, kind, s.clock.Now(), filters)
}

// Between implements store.Adapter.
func (s *Store) Between(_ context.Context, kind string, t1, t2 time.Time) ([]store.BetweenEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.BetweenEntry
	for _, v := range s.kinds[kind] {
		if v.rowStart.Before(t2) && (v.current() || v.rowEnd.After(t1)) {
			out = append(out, store.BetweenEntry{Record: cloneRecord(v.data), RowStart: v.rowStart, RowEnd: v.rowEnd})
		}
	}
	return out, nil
}

// Audit implements store.Adapter.
func (s *Store) Audit(_ context.Context, kind string, limit int) ([]store.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := append([]*version(nil), s.kinds[kind]...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].rowStart.After(versions[j].rowStart) })
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	out := make([]store.AuditEntry, 0, len(versions))
	for _, v := range versions {
		status := types.StatusHistorical
		if v.current() {
			status = types.StatusCurrent
		}
		out = append(out, store.AuditEntry{
			Record:    cloneRecord(v.data),
			ChangedAt: v.rowStart,
			ValidFrom: v.rowStart,
			ValidTo:   v.rowEnd,
			Status:    status,
		})
	}
	return out, nil
}

// UpsertBatch implements store.Adapter. It must be called with a Tx from
// this Store's TxBegin.
func (s *Store) UpsertBatch(ctx context.Context, tx store.Tx, kind, pk string, records []types.Record) (store.UpsertResult, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return store.UpsertResult{}, types.StoreFailure("upsert_batch", errWrongTx)
	}
	return t.upsertBatch(kind, pk, records)
}

// TxBegin implements store.Adapter by snapshotting the current state for
// atomic commit/rollback.
func (s *Store) TxBegin(_ context.Context) (store.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[string][]*version, len(s.kinds))
	for k, vs := range s.kinds {
		cp := make([]*version, len(vs))
		for i, v := range vs {
			cv := *v
			cv.data = cloneRecord(v.data)
			cp[i] = &cv
		}
		staged[k] = cp
	}
	return &Tx{store: s, staged: staged, now: s.clock.Now()}, nil
}

func cloneRecord(r types.Record) types.Record {
	out := make(types.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
