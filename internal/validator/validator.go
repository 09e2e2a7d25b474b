// Package validator implements the Dependency Validator (§4.F): checks a
// proposed restore set for referential safety before the Executor runs.
// Grounded on the teacher's internal/storage/dolt/dependencies.go (existence
// checks against a referent table before accepting an edge), generalized
// from the original's two hardcoded per-table functions
// (_validate_airport_dependencies/_validate_route_dependencies) into one
// registry-driven routine over types.EntityKind.References.
package validator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

// ForeignKeyIssue is one unresolved outgoing reference found on a restored
// record — a blocker (§4.F).
type ForeignKeyIssue struct {
	Key         string
	Field       string
	TargetKind  string
	TargetValue string
}

// IncomingImpact counts how many rows in a referring kind point at keys
// being resurrected — a warning, not a blocker (§4.F).
type IncomingImpact struct {
	ReferringKind string
	Field         string
	Count         int
}

// Result is the Validator's output (§4.F).
type Result struct {
	SafeToRestore     bool
	ForeignKeyIssues  []ForeignKeyIssue
	CascadeImpact     []IncomingImpact
	Warnings          []string
	AffectedKinds     []string
}

// Validator checks restore sets for referential safety.
type Validator struct {
	store store.Adapter
}

// New returns a Validator backed by the given store.
func New(s store.Adapter) *Validator {
	return &Validator{store: s}
}

// Validate checks records (the proposed restore set for kind) against
// outgoing references (blocking) and incoming references (warning).
// allKinds is the full registry, needed to find every kind that declares a
// reference pointing at kind (incoming-reference scan). Modified restores
// are validated as if their historical payloads were being inserted fresh,
// per §4.F.
func (v *Validator) Validate(ctx context.Context, kind types.EntityKind, records []types.Record, allKinds []types.EntityKind) (Result, error) {
	result := Result{SafeToRestore: true}

	issues, err := v.checkOutgoing(ctx, kind, records)
	if err != nil {
		return Result{}, err
	}
	if len(issues) > 0 {
		result.SafeToRestore = false
		result.ForeignKeyIssues = issues
	}

	impact, err := v.checkIncoming(ctx, kind, records, allKinds)
	if err != nil {
		return Result{}, err
	}
	result.CascadeImpact = impact

	affected := map[string]bool{kind.Name: true}
	for _, i := range impact {
		affected[i.ReferringKind] = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("restoring %d %s record(s) will resurrect the target of %d row(s) in %s.%s",
				len(records), kind.Name, i.Count, i.ReferringKind, i.Field))
	}
	for k := range affected {
		result.AffectedKinds = append(result.AffectedKinds, k)
	}

	return result, nil
}

// checkOutgoing verifies that for every restored record, every reference
// field on kind points at a record that exists in current(target kind).
// This is blocking (§4.F).
func (v *Validator) checkOutgoing(ctx context.Context, kind types.EntityKind, records []types.Record) ([]ForeignKeyIssue, error) {
	if len(kind.References) == 0 {
		return nil, nil
	}

	var issues []ForeignKeyIssue
	for _, ref := range kind.References {
		targets := make(map[string]bool)
		var missingForRef []struct {
			key, value string
		}
		for _, r := range records {
			key, _ := kind.PK(r)
			v, ok := r[ref.FieldOnSelf]
			if !ok || v == nil {
				continue
			}
			value := fmt.Sprintf("%v", v)
			targets[value] = false
			missingForRef = append(missingForRef, struct{ key, value string }{key, value})
		}
		if len(targets) == 0 {
			continue
		}

		current, err := v.store.Current(ctx, ref.TargetKind, nil)
		if err != nil {
			return nil, types.StoreFailure("validator.checkOutgoing", err)
		}
		for _, cr := range current {
			if tv, ok := cr[ref.TargetField]; ok && tv != nil {
				targets[fmt.Sprintf("%v", tv)] = true
			}
		}

		for _, m := range missingForRef {
			if !targets[m.value] {
				issues = append(issues, ForeignKeyIssue{
					Key:         m.key,
					Field:       ref.FieldOnSelf,
					TargetKind:  ref.TargetKind,
					TargetValue: m.value,
				})
			}
		}
	}
	return issues, nil
}

// checkIncoming counts, for every other kind that declares a reference
// pointing at kind, how many of its current rows point at a key being
// resurrected. Concurrent across referring kinds via errgroup, mirroring
// the finder's concurrent stability probes.
func (v *Validator) checkIncoming(ctx context.Context, kind types.EntityKind, records []types.Record, allKinds []types.EntityKind) ([]IncomingImpact, error) {
	keys := make(map[string]bool, len(records))
	for _, r := range records {
		if k, ok := kind.PK(r); ok {
			keys[k] = true
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var referring []struct {
		k types.EntityKind
		r types.Reference
	}
	for _, k := range allKinds {
		for _, ref := range k.References {
			if ref.TargetKind == kind.Name {
				referring = append(referring, struct {
					k types.EntityKind
					r types.Reference
				}{k, ref})
			}
		}
	}
	if len(referring) == 0 {
		return nil, nil
	}

	impacts := make([]IncomingImpact, len(referring))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range referring {
		i, ref := i, ref
		g.Go(func() error {
			rows, err := v.store.Current(gctx, ref.k.Name, nil)
			if err != nil {
				return types.StoreFailure("validator.checkIncoming", err)
			}
			count := 0
			for _, row := range rows {
				val, ok := row[ref.r.FieldOnSelf]
				if !ok || val == nil {
					continue
				}
				if keys[fmt.Sprintf("%v", val)] {
					count++
				}
			}
			if count > 0 {
				impacts[i] = IncomingImpact{ReferringKind: ref.k.Name, Field: ref.r.FieldOnSelf, Count: count}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]IncomingImpact, 0, len(impacts))
	for _, im := range impacts {
		if im.Count > 0 {
			out = append(out, im)
		}
	}
	return out, nil
}
