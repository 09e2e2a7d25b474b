// Package health implements the Health Scorer (§4.C): four weighted,
// 25-point-capped checks over a snapshot at a candidate timestamp, summed
// to a 0-100 composite. Grounded on
// original_source/src/algorithms/smart_restore_algorithm.py's
// _check_record_count/_check_required_fields/_check_foreign_keys/
// _check_data_distribution — the full-credit variant, not the simplified
// 3-tier original_source/algorithms/health_scorer.py.
package health

import (
	"context"
	"time"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

// Level classifies a composite score.
type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

func levelOf(score int) Level {
	switch {
	case score >= 80:
		return LevelHealthy
	case score >= 60:
		return LevelWarning
	default:
		return LevelCritical
	}
}

// CheckResult is one of the four bounded checks plus its diagnostics.
type CheckResult struct {
	Name     string
	Score    int
	Degraded bool // set when a sub-query failed and partial credit was used
	Detail   map[string]any
}

// Result is the Health Scorer's output for one (kind, t) candidate.
type Result struct {
	Score  int
	Checks []CheckResult
	Level  Level
}

// Scorer computes composite health scores against a store.Adapter.
type Scorer struct {
	store store.Adapter
}

// New returns a Scorer backed by the given store.
func New(s store.Adapter) *Scorer {
	return &Scorer{store: s}
}

// Score computes the health of kind's snapshot at t (§4.C).
func (s *Scorer) Score(ctx context.Context, kind types.EntityKind, t time.Time) (Result, error) {
	snapshot, err := s.store.AsOf(ctx, kind.Name, t, nil)
	if err != nil {
		return Result{}, types.StoreFailure("health.Score", err)
	}

	checks := []CheckResult{
		s.checkRecordCount(ctx, kind, snapshot),
		checkRequiredFields(kind, snapshot),
		s.checkReferences(ctx, kind, snapshot, t),
		checkDistribution(kind, snapshot),
	}

	total := 0
	for _, c := range checks {
		total += c.Score
	}
	return Result{Score: total, Checks: checks, Level: levelOf(total)}, nil
}

// checkRecordCount is check 1: record-count plausibility against a
// baseline of |current(K)|, falling back to a 24h-ago historical count
// when current is unavailable.
func (s *Scorer) checkRecordCount(ctx context.Context, kind types.EntityKind, snapshot []types.Record) CheckResult {
	n := len(snapshot)
	baseline, err := s.store.Current(ctx, kind.Name, nil)
	b := len(baseline)
	if err != nil || b == 0 {
		if hist, herr := s.store.AsOf(ctx, kind.Name, time.Now().Add(-24*time.Hour), nil); herr == nil {
			b = len(hist)
		}
	}
	if kind.ExpectedCountBounds.Set {
		b = (kind.ExpectedCountBounds.Min + kind.ExpectedCountBounds.Max) / 2
	}

	var score int
	switch {
	case n == 0:
		score = 0
	case b == 0:
		score = 5
	case float64(n) >= 0.8*float64(b) && float64(n) <= 1.2*float64(b):
		score = 25
	case float64(n) >= 0.8*float64(b):
		score = 15
	default:
		score = 5
	}
	return CheckResult{Name: "record_count", Score: score, Detail: map[string]any{"n": n, "baseline": b}}
}

// checkRequiredFields is check 2: required-field completeness.
func checkRequiredFields(kind types.EntityKind, snapshot []types.Record) CheckResult {
	n := len(snapshot)
	if len(kind.RequiredFields) == 0 || n == 0 {
		return CheckResult{Name: "required_fields", Score: 25, Detail: map[string]any{"n": n}}
	}

	violations := 0
	for _, r := range snapshot {
		for _, field := range kind.RequiredFields {
			if isEmpty(r[field]) {
				violations++
			}
		}
	}
	total := n * len(kind.RequiredFields)
	ratio := float64(violations) / float64(total)

	var score int
	switch {
	case violations == 0:
		score = 25
	case ratio < 0.1:
		score = 20
	case ratio < 0.2:
		score = 10
	default:
		score = 0
	}
	return CheckResult{Name: "required_fields", Score: score, Detail: map[string]any{"violations": violations, "total": total}}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// checkReferences is check 3: referential integrity across kind's
// outgoing references. A failed sub-query is scored 15 with Degraded set
// (§9 Open Question: fixed at 15, not sometimes 10/sometimes 15).
func (s *Scorer) checkReferences(ctx context.Context, kind types.EntityKind, snapshot []types.Record, t time.Time) CheckResult {
	if len(kind.References) == 0 {
		return CheckResult{Name: "references", Score: 25}
	}

	var total, resolved int
	degraded := false
	for _, ref := range kind.References {
		targets, err := s.store.AsOf(ctx, ref.TargetKind, t, nil)
		if err != nil {
			degraded = true
			continue
		}
		exists := make(map[string]bool, len(targets))
		for _, tgt := range targets {
			if v, ok := tgt[ref.TargetField]; ok {
				exists[toKey(v)] = true
			}
		}
		for _, r := range snapshot {
			v, ok := r[ref.FieldOnSelf]
			if !ok || isEmpty(v) {
				continue
			}
			total++
			if exists[toKey(v)] {
				resolved++
			}
		}
	}

	if degraded {
		return CheckResult{Name: "references", Score: 15, Degraded: true}
	}
	if total == 0 {
		return CheckResult{Name: "references", Score: 25}
	}

	p := float64(resolved) / float64(total)
	var score int
	switch {
	case p >= 0.95:
		score = 25
	case p >= 0.8:
		score = 20
	case p >= 0.6:
		score = 10
	default:
		score = 0
	}
	return CheckResult{Name: "references", Score: score, Detail: map[string]any{"resolved": resolved, "total": total}}
}

func toKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// checkDistribution is check 4: kind-specific diversity sanity. Only
// "airports" has a registered rule (city/country diversity); every other
// kind scores full credit unless a future kind-specific rule is added.
func checkDistribution(kind types.EntityKind, snapshot []types.Record) CheckResult {
	if kind.Name != "airports" {
		return CheckResult{Name: "distribution", Score: 25}
	}

	cities := make(map[string]bool)
	countries := make(map[string]bool)
	withCity, withCountry := 0, 0
	for _, r := range snapshot {
		if c, ok := r["city"]; ok && !isEmpty(c) {
			withCity++
			cities[toKey(c)] = true
		}
		if c, ok := r["country"]; ok && !isEmpty(c) {
			withCountry++
			countries[toKey(c)] = true
		}
	}

	cityScore := 5
	if withCity > 0 {
		d := float64(len(cities)) / float64(withCity)
		switch {
		case d > 0.3:
			cityScore = 15
		case d > 0.1:
			cityScore = 10
		}
	}
	countryScore := 5
	if withCountry > 0 {
		d := float64(len(countries)) / float64(withCountry)
		if d > 0.1 {
			countryScore = 10
		}
	}

	return CheckResult{
		Name:  "distribution",
		Score: cityScore + countryScore,
		Detail: map[string]any{
			"city_diversity":    ratio(len(cities), withCity),
			"country_diversity": ratio(len(countries), withCountry),
		},
	}
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
