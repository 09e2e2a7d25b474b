// Package recovery is the public operation surface (§6): the six
// operations a caller drives a recovery request through —
// SuggestRestorePoint, Diff, Restore, SelectiveRestore, Snapshot, and
// Timeline — wiring the Temporal Store Adapter, Health Scorer, Smart
// Finder, Diff Engine, Classifier, Dependency Validator and Selective
// Executor together behind one entry point. Grounded on the teacher's
// root-level beads.go (a thin public package wrapping internal
// components for programmatic extension).
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/flightvault/recovery/internal/classifier"
	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/diff"
	"github.com/flightvault/recovery/internal/executor"
	"github.com/flightvault/recovery/internal/finder"
	"github.com/flightvault/recovery/internal/registry"
	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
	"github.com/flightvault/recovery/internal/validator"
)

// Re-exported so callers of this package never need to import the
// internal packages directly.
type (
	EntityKind     = types.EntityKind
	Record         = types.Record
	ChangeSet      = types.ChangeSet
	Classification = types.Classification
	Rule           = classifier.Rule
	Window         = finder.Window
)

// Recovery wires the store, registry and clock to every component of the
// core. One value is safe to reuse across operations and kinds; it holds
// no per-operation mutable state (§5: no shared mutable state inside the
// core).
type Recovery struct {
	store    store.Adapter
	registry *registry.Registry
	clock    clock.Clock
	when     *when.Parser
}

// New returns a Recovery operating against s, with entity kinds resolved
// from reg and "now" taken from c (clock.Real() in production,
// clock.Fixed(t) under test — §9 "Clock").
func New(s store.Adapter, reg *registry.Registry, c clock.Clock) *Recovery {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Recovery{store: s, registry: reg, clock: c, when: w}
}

func (r *Recovery) lookupKind(op, name string) (types.EntityKind, error) {
	kind, ok := r.registry.Lookup(name)
	if !ok {
		return types.EntityKind{}, types.Precondition(op, "unknown entity kind %q", name)
	}
	return kind, nil
}

// parseTimestamp accepts a natural-language expression ("yesterday at
// 3pm", "2 hours ago") or an RFC3339/ISO-8601 string. Natural language is
// tried first since it is the friendlier operator-facing path; a literal
// timestamp always parses unambiguously via the fallback.
func (r *Recovery) parseTimestamp(op, expr string) (time.Time, error) {
	if expr == "" {
		return time.Time{}, types.Precondition(op, "timestamp expression is empty")
	}
	now := r.clock.Now()
	if result, err := r.when.Parse(expr, now); err == nil && result != nil {
		return result.Time, nil
	}
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}
	return time.Time{}, types.Precondition(op, "could not parse timestamp %q as a natural-language expression or RFC3339", expr)
}

// FinderResult is §6's FinderResult: the Finder's output plus an
// OperationID correlating it with its OpenTelemetry trace.
type FinderResult struct {
	OperationID string
	Kind        string
	finder.Result
}

// SuggestRestorePoint runs the Smart Finder (§4.D) over the default
// [now-24h, now] window for kind.
func (r *Recovery) SuggestRestorePoint(ctx context.Context, kindName string) (FinderResult, error) {
	return r.SuggestRestorePointIn(ctx, kindName, finder.Window{})
}

// SuggestRestorePointIn is SuggestRestorePoint with an explicit search
// window, letting a caller narrow or widen the binary search (§4.D).
func (r *Recovery) SuggestRestorePointIn(ctx context.Context, kindName string, win finder.Window) (FinderResult, error) {
	kind, err := r.lookupKind("recovery.SuggestRestorePoint", kindName)
	if err != nil {
		return FinderResult{}, err
	}
	f := finder.New(r.store, r.clock).WithHealthyThreshold(r.registry.HealthyThreshold())
	res, err := f.Suggest(ctx, kind, win)
	if err != nil {
		return FinderResult{}, err
	}
	return FinderResult{OperationID: uuid.NewString(), Kind: kindName, Result: res}, nil
}

// Diff computes the Change set (§3, §4.B) between beforeExpr and
// afterExpr. afterExpr may be empty, meaning "now" (current(K)).
func (r *Recovery) Diff(ctx context.Context, kindName, beforeExpr, afterExpr string) (ChangeSet, error) {
	kind, err := r.lookupKind("recovery.Diff", kindName)
	if err != nil {
		return types.ChangeSet{}, err
	}
	before, after, err := r.snapshotPair(ctx, kind, beforeExpr, afterExpr)
	if err != nil {
		return types.ChangeSet{}, err
	}
	return diff.New().Compare(kind, before, after)
}

// snapshotPair resolves the before/after record sets for a diff-style
// operation: before is always an as-of read at beforeExpr; after is
// current(K) when afterExpr is empty, else an as-of read at afterExpr.
func (r *Recovery) snapshotPair(ctx context.Context, kind types.EntityKind, beforeExpr, afterExpr string) (before, after []types.Record, err error) {
	beforeT, err := r.parseTimestamp("recovery.Diff", beforeExpr)
	if err != nil {
		return nil, nil, err
	}
	before, err = r.store.AsOf(ctx, kind.Name, beforeT, nil)
	if err != nil {
		return nil, nil, types.StoreFailure("recovery.Diff", err)
	}
	if afterExpr == "" {
		after, err = r.store.Current(ctx, kind.Name, nil)
	} else {
		var afterT time.Time
		afterT, err = r.parseTimestamp("recovery.Diff", afterExpr)
		if err == nil {
			after, err = r.store.AsOf(ctx, kind.Name, afterT, nil)
		}
	}
	if err != nil {
		return nil, nil, types.StoreFailure("recovery.Diff", err)
	}
	return before, after, nil
}

// RestoreResult is §6's RestoreResult for the unconditional-revert
// restore operation: every key that changed since the restore point is
// put back to its historical value, with no classification step.
type RestoreResult struct {
	OperationID string
	Kind        string
	Timestamp   time.Time
	DryRun      bool
	WillAdd     int
	WillUpdate  int
	WillRemove  int
	Executed    bool
	Execution   *executor.Result
	Warnings    []string
}

// Restore implements §6's restore(kind, timestamp?, dry_run): reinstates
// every record deleted or modified since timestamp. When timestamp is
// empty, it calls the Finder first and uses its optimal timestamp. A
// dry run (dryRun=true) reports the would-be counts without writing.
//
// WillRemove is informational only: records added since timestamp are
// reported but never deleted, because the store contract (§4.A) is
// upsert-only and has no delete operation — restoring is always additive.
func (r *Recovery) Restore(ctx context.Context, kindName, timestampExpr string, dryRun bool) (RestoreResult, error) {
	kind, err := r.lookupKind("recovery.Restore", kindName)
	if err != nil {
		return RestoreResult{}, err
	}

	t, warnings, err := r.resolveTimestamp(ctx, kind, timestampExpr)
	if err != nil {
		return RestoreResult{}, err
	}

	before, err := r.store.AsOf(ctx, kind.Name, t, nil)
	if err != nil {
		return RestoreResult{}, types.StoreFailure("recovery.Restore", err)
	}
	after, err := r.store.Current(ctx, kind.Name, nil)
	if err != nil {
		return RestoreResult{}, types.StoreFailure("recovery.Restore", err)
	}
	cs, err := diff.New().Compare(kind, before, after)
	if err != nil {
		return RestoreResult{}, err
	}

	if len(cs.Added) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"%d record(s) added since the restore point will not be removed; this operation is upsert-only", len(cs.Added)))
	}

	result := RestoreResult{
		OperationID: uuid.NewString(),
		Kind:        kindName,
		Timestamp:   t,
		DryRun:      dryRun,
		WillAdd:     len(cs.Deleted),
		WillUpdate:  len(cs.Modified),
		WillRemove:  len(cs.Added),
		Warnings:    warnings,
	}
	if dryRun {
		return result, nil
	}

	restoreSet := fullRevertSet(cs)
	exec, err := executor.New(r.store).Execute(ctx, kind, restoreSet)
	if err != nil {
		return result, err
	}
	result.Executed = true
	result.Execution = &exec
	return result, nil
}

// fullRevertSet builds the restore payloads for an unclassified revert:
// deleted records are reinstated as-is, modified records revert to their
// before value (§3: "a restore payload for key k equals exactly
// S(K,t*)[k], no synthesis").
func fullRevertSet(cs types.ChangeSet) []types.Record {
	out := make([]types.Record, 0, len(cs.Deleted)+len(cs.Modified))
	out = append(out, cs.Deleted...)
	for _, m := range cs.Modified {
		out = append(out, m.Before)
	}
	return out
}

// resolveTimestamp parses timestampExpr, or — when empty — calls the
// Finder and carries its warnings forward onto the caller's result.
func (r *Recovery) resolveTimestamp(ctx context.Context, kind types.EntityKind, timestampExpr string) (time.Time, []string, error) {
	if timestampExpr != "" {
		t, err := r.parseTimestamp("recovery.Restore", timestampExpr)
		return t, nil, err
	}
	suggestion, err := r.SuggestRestorePointIn(ctx, kind.Name, finder.Window{})
	if err != nil {
		return time.Time{}, nil, err
	}
	return suggestion.OptimalTimestamp, suggestion.Warnings, nil
}

// SelectiveResult is §6's SelectiveResult: the classified change set,
// its dependency-validation outcome, and (if executed) the Executor's
// result.
type SelectiveResult struct {
	OperationID    string
	Kind           string
	Timestamp      time.Time
	Classification Classification
	Validation     validator.Result
	Executed       bool
	Execution      *executor.Result
}

// SelectiveRestore implements §6's selective_restore(kind, timestamp?,
// rules?, execute): diffs timestamp against now, classifies each change
// (rules if given, else the default heuristics of §4.E), validates the
// restore subset (§4.F), and — when execute is true and the validator
// reports safe_to_restore — applies it via the Selective Executor
// (§4.G). When execute is false this is a preview: Classification and
// Validation are populated but nothing is written.
func (r *Recovery) SelectiveRestore(ctx context.Context, kindName, timestampExpr string, rules []Rule, execute bool) (SelectiveResult, error) {
	kind, err := r.lookupKind("recovery.SelectiveRestore", kindName)
	if err != nil {
		return SelectiveResult{}, err
	}

	t, _, err := r.resolveTimestamp(ctx, kind, timestampExpr)
	if err != nil {
		return SelectiveResult{}, err
	}

	before, err := r.store.AsOf(ctx, kind.Name, t, nil)
	if err != nil {
		return SelectiveResult{}, types.StoreFailure("recovery.SelectiveRestore", err)
	}
	after, err := r.store.Current(ctx, kind.Name, nil)
	if err != nil {
		return SelectiveResult{}, types.StoreFailure("recovery.SelectiveRestore", err)
	}
	cs, err := diff.New().Compare(kind, before, after)
	if err != nil {
		return SelectiveResult{}, err
	}

	cl := classifier.New(r.store).WithMassDeleteThreshold(r.registry.MassDeleteThreshold())
	classification, err := cl.Classify(ctx, kind, cs, rules, t)
	if err != nil {
		return SelectiveResult{}, err
	}
	restoreSet := classification.RestoreSet()

	validation, err := validator.New(r.store).Validate(ctx, kind, restoreSet, r.registry.All())
	if err != nil {
		return SelectiveResult{}, err
	}

	result := SelectiveResult{
		OperationID:    uuid.NewString(),
		Kind:           kindName,
		Timestamp:      t,
		Classification: classification,
		Validation:     validation,
	}

	if !execute || !validation.SafeToRestore {
		// §7 Validation failure: the Executor does not run; the blocking
		// issues are surfaced on Validation, not raised as an error.
		return result, nil
	}

	exec, err := executor.New(r.store).Execute(ctx, kind, restoreSet)
	if err != nil {
		return result, err
	}
	result.Executed = true
	result.Execution = &exec
	return result, nil
}

// PagedRecords is §6's PagedRecords: a page of a snapshot at one instant.
type PagedRecords struct {
	Kind      string
	Timestamp time.Time
	Limit     int
	Offset    int
	Total     int
	Records   []Record
}

// Snapshot implements §6's snapshot(kind, t, limit, offset): a page of
// S(K, t), ordered by primary key for a stable, repeatable page
// boundary (§9 "Iterators over collections").
func (r *Recovery) Snapshot(ctx context.Context, kindName, tExpr string, limit, offset int) (PagedRecords, error) {
	kind, err := r.lookupKind("recovery.Snapshot", kindName)
	if err != nil {
		return PagedRecords{}, err
	}
	t, err := r.parseTimestamp("recovery.Snapshot", tExpr)
	if err != nil {
		return PagedRecords{}, err
	}
	records, err := r.store.AsOf(ctx, kind.Name, t, nil)
	if err != nil {
		return PagedRecords{}, types.StoreFailure("recovery.Snapshot", err)
	}
	sort.Slice(records, func(i, j int) bool {
		ki, _ := kind.PK(records[i])
		kj, _ := kind.PK(records[j])
		return ki < kj
	})

	total := len(records)
	page := paginate(records, limit, offset)
	return PagedRecords{Kind: kindName, Timestamp: t, Limit: limit, Offset: offset, Total: total, Records: page}, nil
}

func paginate(records []types.Record, limit, offset int) []types.Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}

// TimelineBucket is one entry of §6's timeline(kind, hours) result: the
// count of versions that started within a one-hour bucket, plus a small
// sample for the caller to eyeball.
type TimelineBucket struct {
	BucketTimestamp time.Time
	ChangeCount     int
	SampleChanges   []Record
}

const timelineSampleSize = 3

// Timeline implements §6's timeline(kind, hours): buckets every version
// whose row_start falls in the trailing `hours` window into hourly
// buckets, via the store's between-range query (§4.A).
func (r *Recovery) Timeline(ctx context.Context, kindName string, hours int) ([]TimelineBucket, error) {
	kind, err := r.lookupKind("recovery.Timeline", kindName)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	start := now.Add(-time.Duration(hours) * time.Hour)

	entries, err := r.store.Between(ctx, kind.Name, start, now)
	if err != nil {
		return nil, types.StoreFailure("recovery.Timeline", err)
	}

	buckets := make(map[time.Time]*TimelineBucket)
	var order []time.Time
	for _, e := range entries {
		if e.RowStart.Before(start) || e.RowStart.After(now) {
			continue
		}
		bucketTS := e.RowStart.Truncate(time.Hour)
		b, ok := buckets[bucketTS]
		if !ok {
			b = &TimelineBucket{BucketTimestamp: bucketTS}
			buckets[bucketTS] = b
			order = append(order, bucketTS)
		}
		b.ChangeCount++
		if len(b.SampleChanges) < timelineSampleSize {
			b.SampleChanges = append(b.SampleChanges, e.Record)
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]TimelineBucket, 0, len(order))
	for _, ts := range order {
		out = append(out, *buckets[ts])
	}
	return out, nil
}
