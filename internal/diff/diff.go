// Package diff implements the Diff Engine (§4.B): a two hash-indexed pass
// comparison of two record sets keyed by a kind's declared primary key,
// grounded on original_source/algorithms/diff_analyzer.py's
// _calculate_diff/_field_changes, generalized from a hardcoded table->pk
// map to the entity-kind registry.
package diff

import (
	"fmt"

	"github.com/flightvault/recovery/internal/types"
)

// Engine computes change sets between two snapshots of one entity kind.
type Engine struct{}

// New returns a Diff Engine. It holds no state — kept as a type so call
// sites read the same way as the store-backed components.
func New() *Engine { return &Engine{} }

// Compare computes the Change set between before and after (§3, §9 "diff
// direction fixed at before→after"): added = new since before, deleted =
// gone since before, modified = present in both with a differing
// non-provenance field.
//
// Complexity is linear in |before|+|after| via two hash-indexed passes.
// A record missing kind's primary key on either side is a fatal
// precondition failure (§4.B).
func (e *Engine) Compare(kind types.EntityKind, before, after []types.Record) (types.ChangeSet, error) {
	beforeIdx, err := indexByKey(kind, before)
	if err != nil {
		return types.ChangeSet{}, err
	}
	afterIdx, err := indexByKey(kind, after)
	if err != nil {
		return types.ChangeSet{}, err
	}

	cs := types.ChangeSet{Kind: kind.Name}

	for key, rec := range afterIdx {
		if _, ok := beforeIdx[key]; !ok {
			cs.Added = append(cs.Added, rec)
		}
	}
	for key, rec := range beforeIdx {
		if _, ok := afterIdx[key]; !ok {
			cs.Deleted = append(cs.Deleted, rec)
		}
	}
	for key, b := range beforeIdx {
		a, ok := afterIdx[key]
		if !ok {
			continue
		}
		if changes := fieldChanges(b, a); len(changes) > 0 {
			cs.Modified = append(cs.Modified, types.Modification{
				Key: key, Before: b, After: a, FieldChanges: changes,
			})
		}
	}

	return cs, nil
}

func indexByKey(kind types.EntityKind, records []types.Record) (map[string]types.Record, error) {
	idx := make(map[string]types.Record, len(records))
	for _, r := range records {
		key, ok := kind.PK(r)
		if !ok {
			return nil, types.Precondition("diff.Compare", "record missing primary key %q for kind %q", kind.PrimaryKey, kind.Name)
		}
		idx[key] = r
	}
	return idx, nil
}

// fieldChanges returns the non-provenance fields that differ between
// before and after. A field present on only one side is reported with the
// missing side's value absent, per §4.B.
func fieldChanges(before, after types.Record) []types.FieldChange {
	seen := make(map[string]bool, len(before)+len(after))
	var out []types.FieldChange
	for field := range before {
		if types.ProvenanceFields[field] || seen[field] {
			continue
		}
		seen[field] = true
		bv, bok := before[field]
		av, aok := after[field]
		if changed(bv, bok, av, aok) {
			out = append(out, fieldChange(field, bv, bok, av, aok))
		}
	}
	for field := range after {
		if types.ProvenanceFields[field] || seen[field] {
			continue
		}
		seen[field] = true
		bv, bok := before[field]
		av, aok := after[field]
		if changed(bv, bok, av, aok) {
			out = append(out, fieldChange(field, bv, bok, av, aok))
		}
	}
	return out
}

func changed(bv any, bok bool, av any, aok bool) bool {
	if bok != aok {
		return true
	}
	if !bok && !aok {
		return false
	}
	return fmt.Sprintf("%v", bv) != fmt.Sprintf("%v", av)
}

func fieldChange(field string, bv any, bok bool, av any, aok bool) types.FieldChange {
	return types.FieldChange{
		Field:         field,
		BeforeValue:   bv,
		BeforePresent: bok,
		AfterValue:    av,
		AfterPresent:  aok,
	}
}
