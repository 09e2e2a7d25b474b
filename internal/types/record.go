// Package types defines the data model shared by every recovery component:
// records, entity kinds, change sets, classifications and the error
// taxonomy. Nothing here talks to a store — these are plain values.
package types

import (
	"fmt"
	"strings"
)

// Record is an unordered mapping from field name to scalar value. It always
// includes the kind's primary-key field. Records read from the store may
// additionally carry provenance fields, which are never compared as data
// and never written back.
type Record map[string]any

// ProvenanceFields are the row-validity metadata fields maintained by the
// store. They are write-excluded on every path and ignored by field
// comparison.
var ProvenanceFields = map[string]bool{
	"row_start":   true,
	"row_end":     true,
	"changed_at":  true,
	"valid_until": true,
	"status":      true,
}

// StripProvenance returns a copy of r with provenance fields removed.
func StripProvenance(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if ProvenanceFields[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// Status is the derived CURRENT/HISTORICAL label on an audit-trail entry.
type Status string

const (
	StatusCurrent    Status = "CURRENT"
	StatusHistorical Status = "HISTORICAL"
)

// Reference declares an outgoing reference from a kind's field to another
// kind's primary key.
type Reference struct {
	FieldOnSelf string
	TargetKind  string
	TargetField string
}

// CountBounds overrides the record-count plausibility check for a kind.
type CountBounds struct {
	Min, Max int
	Set      bool
}

// EntityKind is a named record collection with a declared primary key and
// the metadata every component consults (§6 "Entity-kind registry").
type EntityKind struct {
	Name                string
	PrimaryKey          string
	RequiredFields      []string
	References          []Reference
	CriticalFields      []string
	ExpectedCountBounds CountBounds
}

// PK returns the primary-key value of r under this kind, and whether it was
// present and non-empty.
func (k EntityKind) PK(r Record) (string, bool) {
	v, ok := r[k.PrimaryKey]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	return s, s != ""
}
