//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/telemetry"
	"github.com/flightvault/recovery/internal/types"
)

var _ store.Adapter = (*DoltStore)(nil)

// openEnd is this adapter's representation of the open interval sentinel
// (§6): a version whose rowEnd equals openEnd is CURRENT.
var openEnd = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

type historyRow struct {
	pk         string
	data       []byte
	commitDate time.Time
}

type recordWindow struct {
	record   types.Record
	rowStart time.Time
	rowEnd   time.Time
	current  bool
}

func matchesFilters(r types.Record, f store.Filters) bool {
	for k, want := range f {
		if got, ok := r[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func (s *DoltStore) fetchHistoryRows(ctx context.Context, kind string) ([]historyRow, error) {
	if err := validateIdentifier(kind); err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, kind); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer.Start(ctx, "dolt.history_scan",
		trace.WithAttributes(telemetry.StoreSpanAttrs(kind, "history_scan")...))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	//nolint:gosec // G201: kind validated by validateIdentifier above
	query := fmt.Sprintf("SELECT pk, data, commit_date FROM `dolt_history_%s` ORDER BY pk ASC, commit_date ASC", kind)
	var rows *sql.Rows
	spanErr = s.withRetry(ctx, func() error {
		var err error
		rows, err = s.db.QueryContext(ctx, query)
		return err
	})
	if spanErr != nil {
		return nil, fmt.Errorf("dolt: failed to scan history for %q: %w", kind, spanErr)
	}
	defer rows.Close()

	var out []historyRow
	for rows.Next() {
		var r historyRow
		if err := rows.Scan(&r.pk, &r.data, &r.commitDate); err != nil {
			spanErr = fmt.Errorf("dolt: failed to scan history row for %q: %w", kind, err)
			return nil, spanErr
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		spanErr = err
		return nil, err
	}
	return out, nil
}

func (s *DoltStore) fetchLiveKeys(ctx context.Context, kind string) (map[string]bool, error) {
	//nolint:gosec // G201: kind validated by fetchHistoryRows's caller path
	query := fmt.Sprintf("SELECT pk FROM `%s`", kind)
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var qerr error
		rows, qerr = s.db.QueryContext(ctx, query)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("dolt: failed to list live keys for %q: %w", kind, err)
	}
	defer rows.Close()

	live := make(map[string]bool)
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		live[pk] = true
	}
	return live, rows.Err()
}

// buildWindows derives per-key validity windows from kind's full version
// history (§9 Open Question 5, "open interval sentinel"): Dolt has no
// literal MariaDB-style sentinel timestamp, so this windows
// dolt_history_<table> rows per primary key, ordered by commit_date. A
// key's most recent version, if still present in the live table, is
// CURRENT and open-ended (rowEnd = openEnd); every earlier version is
// HISTORICAL and closes where the key's next version starts. The last
// version of a key no longer in the live table closes at the next commit
// that touched the table (or at its own start if there is none).
func (s *DoltStore) buildWindows(ctx context.Context, kind string) ([]recordWindow, error) {
	rows, err := s.fetchHistoryRows(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	live, err := s.fetchLiveKeys(ctx, kind)
	if err != nil {
		return nil, err
	}

	var timeline []time.Time
	seen := make(map[int64]bool)
	for _, r := range rows {
		ts := r.commitDate.UnixNano()
		if !seen[ts] {
			seen[ts] = true
			timeline = append(timeline, r.commitDate)
		}
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })

	nextCommitAfter := func(t time.Time) (time.Time, bool) {
		idx := sort.Search(len(timeline), func(i int) bool { return timeline[i].After(t) })
		if idx == len(timeline) {
			return time.Time{}, false
		}
		return timeline[idx], true
	}

	var windows []recordWindow
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].pk == rows[i].pk {
			j++
		}
		group := rows[i:j]
		for k, r := range group {
			var rec types.Record
			if err := json.Unmarshal(r.data, &rec); err != nil {
				return nil, fmt.Errorf("dolt: failed to decode %q row %q: %w", kind, r.pk, err)
			}
			w := recordWindow{record: rec, rowStart: r.commitDate}
			if k == len(group)-1 {
				switch {
				case live[r.pk]:
					w.rowEnd = openEnd
					w.current = true
				default:
					if next, ok := nextCommitAfter(r.commitDate); ok {
						w.rowEnd = next
					} else {
						w.rowEnd = r.commitDate
					}
				}
			} else {
				w.rowEnd = group[k+1].commitDate
			}
			windows = append(windows, w)
		}
		i = j
	}
	return windows, nil
}

// AsOf implements store.Adapter.
func (s *DoltStore) AsOf(ctx context.Context, kind string, t time.Time, filters store.Filters) ([]types.Record, error) {
	windows, err := s.buildWindows(ctx, kind)
	if err != nil {
		return nil, types.StoreFailure("dolt.AsOf", err)
	}
	var out []types.Record
	for _, w := range windows {
		if !t.Before(w.rowStart) && t.Before(w.rowEnd) && matchesFilters(w.record, filters) {
			out = append(out, w.record)
		}
	}
	return out, nil
}

// Current implements store.Adapter.
func (s *DoltStore) Current(ctx context.Context, kind string, filters store.Filters) ([]types.Record, error) {
	return s.AsOf(ctx, kind, time.Now(), filters)
}

// Between implements store.Adapter.
func (s *DoltStore) Between(ctx context.Context, kind string, t1, t2 time.Time) ([]store.BetweenEntry, error) {
	windows, err := s.buildWindows(ctx, kind)
	if err != nil {
		return nil, types.StoreFailure("dolt.Between", err)
	}
	var out []store.BetweenEntry
	for _, w := range windows {
		if w.rowStart.Before(t2) && (w.current || w.rowEnd.After(t1)) {
			out = append(out, store.BetweenEntry{Record: w.record, RowStart: w.rowStart, RowEnd: w.rowEnd})
		}
	}
	return out, nil
}

// Audit implements store.Adapter.
func (s *DoltStore) Audit(ctx context.Context, kind string, limit int) ([]store.AuditEntry, error) {
	windows, err := s.buildWindows(ctx, kind)
	if err != nil {
		return nil, types.StoreFailure("dolt.Audit", err)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].rowStart.After(windows[j].rowStart) })
	if limit > 0 && len(windows) > limit {
		windows = windows[:limit]
	}
	out := make([]store.AuditEntry, 0, len(windows))
	for _, w := range windows {
		status := types.StatusHistorical
		if w.current {
			status = types.StatusCurrent
		}
		out = append(out, store.AuditEntry{
			Record:    w.record,
			ChangedAt: w.rowStart,
			ValidFrom: w.rowStart,
			ValidTo:   w.rowEnd,
			Status:    status,
		})
	}
	return out, nil
}
