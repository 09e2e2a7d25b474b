// Package classifier implements the Classifier (§4.E): explicit rules
// (first match wins) plus fallback heuristics, labelling each change
// keep/restore/uncertain. Grounded on
// original_source/src/core/selective_restore.py's classify_changes/
// _apply_rules/_heuristic_analysis.
package classifier

import (
	"context"
	"time"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

// massDeleteThreshold is the "mass change" marker (§9 Open Question:
// a policy constant, not hardcoded logic — exposed as a Classifier field
// so registries/tests can override it).
const massDeleteThreshold = 10

// recentWindow is how recently-added a record must be to default to keep.
const recentWindow = time.Hour

// Rule is an explicit classification rule. Evaluated in declaration order;
// first match wins. A zero-value field means "don't constrain on this".
type Rule struct {
	Type        types.ChangeType
	FieldPrefix string              // matches if any field_changes[i].Field has this prefix
	Since       time.Time           // matches if the change's relevant timestamp is >= Since
	Until       time.Time           // matches if the change's relevant timestamp is <= Until
	Label       types.Label
}

// Classifier partitions a ChangeSet into keep/restore/uncertain.
type Classifier struct {
	store               store.Adapter
	massDeleteThreshold int
}

// New returns a Classifier backed by the store (needed to derive
// creation/modification/deletion timestamps from the audit trail).
func New(s store.Adapter) *Classifier {
	return &Classifier{store: s, massDeleteThreshold: massDeleteThreshold}
}

// WithMassDeleteThreshold overrides the policy constant.
func (c *Classifier) WithMassDeleteThreshold(n int) *Classifier {
	c.massDeleteThreshold = n
	return c
}

// Classify labels every change in cs, applying rules (if any) first and
// falling back to the default heuristics of §4.E.
func (c *Classifier) Classify(ctx context.Context, kind types.EntityKind, cs types.ChangeSet, rules []Rule, restoreTimestamp time.Time) (types.Classification, error) {
	result := types.Classification{Kind: cs.Kind}

	massDelete := len(cs.Deleted) > c.massDeleteThreshold

	for _, r := range cs.Added {
		key, _ := kind.PK(r)
		entry := types.ClassificationEntry{Type: types.ChangeAdded, Key: key, Added: recPtr(r)}
		created, err := c.creationTime(ctx, kind, key)
		if err != nil {
			return result, err
		}
		if label, ok := matchRules(rules, types.ChangeAdded, nil, created); ok {
			entry.Label, entry.Reason = label, "matched explicit rule"
		} else if created.IsZero() {
			entry.Label, entry.Reason = types.LabelUncertain, "creation timestamp unavailable in audit trail"
		} else if time.Since(created) <= recentWindow {
			entry.Label, entry.Reason = types.LabelKeep, "added recently, treated as a legitimate new record"
		} else {
			entry.Label, entry.Reason = types.LabelUncertain, "added but not recent enough for the keep heuristic"
		}
		appendEntry(&result, entry)
	}

	for _, r := range cs.Deleted {
		key, _ := kind.PK(r)
		entry := types.ClassificationEntry{Type: types.ChangeDeleted, Key: key, Deleted: recPtr(r)}
		deletedAt, err := c.deletionTime(ctx, kind, key, restoreTimestamp)
		if err != nil {
			return result, err
		}
		if label, ok := matchRules(rules, types.ChangeDeleted, nil, deletedAt); ok {
			entry.Label, entry.Reason = label, "matched explicit rule"
		} else if massDelete {
			entry.Label, entry.Reason = types.LabelRestore, "part of a mass deletion"
		} else {
			entry.Label, entry.Reason = types.LabelUncertain, "isolated deletion, not mass enough to auto-restore"
		}
		appendEntry(&result, entry)
	}

	for i := range cs.Modified {
		m := cs.Modified[i]
		entry := types.ClassificationEntry{Type: types.ChangeModified, Key: m.Key, Mod: &cs.Modified[i]}
		modifiedAt, err := c.modificationTime(ctx, kind, m.Key, restoreTimestamp)
		if err != nil {
			return result, err
		}
		if label, ok := matchRules(rules, types.ChangeModified, m.FieldChanges, modifiedAt); ok {
			entry.Label, entry.Reason = label, "matched explicit rule"
		} else if modifiedAt.IsZero() {
			entry.Label, entry.Reason = types.LabelUncertain, "modification timestamp unavailable in audit trail"
		} else if touchesCriticalField(kind, m.FieldChanges) {
			entry.Label, entry.Reason = types.LabelRestore, "modification touches a critical field"
		} else {
			entry.Label, entry.Reason = types.LabelKeep, "modification does not touch a critical field"
		}
		appendEntry(&result, entry)
	}

	return result, nil
}

func appendEntry(c *types.Classification, e types.ClassificationEntry) {
	switch e.Label {
	case types.LabelKeep:
		c.Keep = append(c.Keep, e)
	case types.LabelRestore:
		c.Restore = append(c.Restore, e)
	default:
		c.Uncertain = append(c.Uncertain, e)
	}
}

func recPtr(r types.Record) *types.Record { return &r }

func touchesCriticalField(kind types.EntityKind, changes []types.FieldChange) bool {
	if len(kind.CriticalFields) == 0 {
		return false
	}
	critical := make(map[string]bool, len(kind.CriticalFields))
	for _, f := range kind.CriticalFields {
		critical[f] = true
	}
	for _, c := range changes {
		if critical[c.Field] {
			return true
		}
	}
	return false
}

// matchRules returns the label of the first rule matching typ/changes,
// per the evaluation order of §4.E ("first match wins").
func matchRules(rules []Rule, typ types.ChangeType, changes []types.FieldChange, at time.Time) (types.Label, bool) {
	for _, rule := range rules {
		if rule.Type != "" && rule.Type != typ {
			continue
		}
		if rule.FieldPrefix != "" && !anyFieldHasPrefix(changes, rule.FieldPrefix) {
			continue
		}
		if !rule.Since.IsZero() && at.Before(rule.Since) {
			continue
		}
		if !rule.Until.IsZero() && at.After(rule.Until) {
			continue
		}
		return rule.Label, true
	}
	return "", false
}

func anyFieldHasPrefix(changes []types.FieldChange, prefix string) bool {
	for _, c := range changes {
		if len(c.Field) >= len(prefix) && c.Field[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// creationTime derives the earliest changed_at for key from the audit
// trail (§4.E: "creation = earliest changed_at for the key").
func (c *Classifier) creationTime(ctx context.Context, kind types.EntityKind, key string) (time.Time, error) {
	entries, err := c.auditFor(ctx, kind, key)
	if err != nil {
		return time.Time{}, err
	}
	var earliest time.Time
	for _, e := range entries {
		if earliest.IsZero() || e.ChangedAt.Before(earliest) {
			earliest = e.ChangedAt
		}
	}
	return earliest, nil
}

// deletionTime derives valid_until of the latest HISTORICAL version whose
// changed_at is after restoreTimestamp (§4.E).
func (c *Classifier) deletionTime(ctx context.Context, kind types.EntityKind, key string, restoreTimestamp time.Time) (time.Time, error) {
	entries, err := c.auditFor(ctx, kind, key)
	if err != nil {
		return time.Time{}, err
	}
	var latest store.AuditEntry
	var found bool
	for _, e := range entries {
		if e.Status != types.StatusHistorical || !e.ChangedAt.After(restoreTimestamp) {
			continue
		}
		if !found || e.ChangedAt.After(latest.ChangedAt) {
			latest, found = e, true
		}
	}
	if !found {
		return time.Time{}, nil
	}
	return latest.ValidTo, nil
}

// modificationTime derives the latest changed_at after restoreTimestamp
// (§4.E).
func (c *Classifier) modificationTime(ctx context.Context, kind types.EntityKind, key string, restoreTimestamp time.Time) (time.Time, error) {
	entries, err := c.auditFor(ctx, kind, key)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, e := range entries {
		if !e.ChangedAt.After(restoreTimestamp) {
			continue
		}
		if latest.IsZero() || e.ChangedAt.After(latest) {
			latest = e.ChangedAt
		}
	}
	return latest, nil
}

func (c *Classifier) auditFor(ctx context.Context, kind types.EntityKind, key string) ([]store.AuditEntry, error) {
	entries, err := c.store.Audit(ctx, kind.Name, 0)
	if err != nil {
		return nil, types.StoreFailure("classifier.auditFor", err)
	}
	out := entries[:0:0]
	for _, e := range entries {
		if k, ok := kind.PK(e.Record); ok && k == key {
			out = append(out, e)
		}
	}
	return out, nil
}
