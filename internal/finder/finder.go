// Package finder implements the Smart Restore-Point Finder (§4.D): a
// binary search through temporal history guided by the Health Scorer,
// with boundary refinement and confidence synthesis. Grounded on
// original_source/src/algorithms/smart_restore_algorithm.py's
// SmartRestorePointFinder — the full 15-iteration binary search with
// best-score tracking, boundary refinement, stability check and
// confidence synthesis.
package finder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"go.opentelemetry.io/otel/trace"

	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/health"
	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/telemetry"
	"github.com/flightvault/recovery/internal/types"
)

const (
	maxIterations = 15
	// defaultHealthyThreshold is the binary search's branching threshold
	// (§9 Open Question 2): a policy constant, overridable per Finder via
	// WithHealthyThreshold (the registry sets this from the kind table).
	defaultHealthyThreshold = 80
	minWindow               = 5 * time.Minute
	refinementWindow        = 10 * time.Minute
	stabilityOffset         = 2 * time.Minute
	defaultSearchWindow     = 24 * time.Hour
)

// Probe is one candidate timestamp evaluated during the search, kept for
// search_log and for the alternative_timestamps supplement (§4 of
// SPEC_FULL.md).
type Probe struct {
	Timestamp time.Time
	Score     int
}

// Result is the Finder's output (§4.D, §6 FinderResult).
type Result struct {
	OptimalTimestamp      time.Time
	ConfidencePercentage  int
	HealthScore           int
	ValidationChecks      []health.CheckResult
	SearchLog             []Probe
	AlternativeTimestamps []Probe
	Stable                bool
	Reason                string
	Warnings              []string
}

// Finder locates the best restore point for an entity kind.
type Finder struct {
	scorer           *health.Scorer
	store            store.Adapter
	clock            clock.Clock
	healthyThreshold int
}

// New returns a Finder backed by the given store and clock.
func New(s store.Adapter, c clock.Clock) *Finder {
	return &Finder{scorer: health.New(s), store: s, clock: c, healthyThreshold: defaultHealthyThreshold}
}

// WithHealthyThreshold overrides the binary search's branching threshold.
func (f *Finder) WithHealthyThreshold(n int) *Finder {
	f.healthyThreshold = n
	return f
}

// Window is a search window; a zero Window means the default
// [now-24h, now].
type Window struct {
	Start, End time.Time
}

// Suggest runs the binary search of §4.D over win (or the default 24h
// window) and returns the best candidate found.
func (f *Finder) Suggest(ctx context.Context, kind types.EntityKind, win Window) (Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "finder.suggest",
		trace.WithAttributes(telemetry.StoreSpanAttrs(kind.Name, "suggest_restore_point")...))
	var suggestErr error
	defer func() { telemetry.EndSpan(span, suggestErr) }()

	now := f.clock.Now()
	if win.Start.IsZero() && win.End.IsZero() {
		win = Window{Start: now.Add(-defaultSearchWindow), End: now}
	}

	lo, hi := win.Start, win.End
	best := Probe{Timestamp: lo, Score: 0}
	var log []Probe
	var alternatives []Probe

	for i := 0; i < maxIterations && hi.Sub(lo) > minWindow; i++ {
		if err := ctx.Err(); err != nil {
			suggestErr = types.Aborted("finder.Suggest", err)
			return Result{}, suggestErr
		}
		mid := lo.Add(hi.Sub(lo) / 2)
		res, err := f.scorer.Score(ctx, kind, mid)
		telemetry.Metrics.ProbeCount.Add(ctx, 1)
		if err != nil {
			// One bad probe does not fail a whole Finder run (§7): record
			// a zero-score probe and keep searching left, the conservative
			// direction.
			log = append(log, Probe{Timestamp: mid, Score: 0})
			hi = mid
			continue
		}
		probe := Probe{Timestamp: mid, Score: res.Score}
		log = append(log, probe)
		alternatives = append(alternatives, probe)

		if res.Score > best.Score {
			best = probe
		}
		if res.Score >= f.healthyThreshold {
			lo = mid
		} else {
			hi = mid
		}
	}

	if hi.Sub(lo) <= refinementWindow {
		refined, refinedLog, err := f.refine(ctx, kind, lo, hi)
		if err != nil {
			suggestErr = err
			return Result{}, suggestErr
		}
		log = append(log, refinedLog...)
		alternatives = append(alternatives, refinedLog...)
		if refined.Score >= best.Score {
			best = refined
		}
	}

	finalChecks, err := f.scorer.Score(ctx, kind, best.Timestamp)
	if err != nil {
		suggestErr = types.StoreFailure("finder.Suggest", err)
		return Result{}, suggestErr
	}

	stable, variance, err := f.validateStability(ctx, kind, best.Timestamp)
	if err != nil {
		suggestErr = err
		return Result{}, suggestErr
	}

	confidence := synthesizeConfidence(finalChecks.Score, stable, best.Score)

	result := Result{
		OptimalTimestamp:     best.Timestamp,
		ConfidencePercentage: confidence,
		HealthScore:          finalChecks.Score,
		ValidationChecks:     finalChecks.Checks,
		SearchLog:            log,
		AlternativeTimestamps: topAlternatives(alternatives, best.Timestamp),
		Stable:               stable,
		Reason:               explainChoice(best, finalChecks.Level, stable),
		Warnings:             warningsFor(confidence, stable, variance),
	}
	return result, nil
}

// refine evaluates every minute in [lo, hi] once the window has narrowed
// to ≤10 minutes, picking the highest-scoring timestamp (§4.D step 3).
func (f *Finder) refine(ctx context.Context, kind types.EntityKind, lo, hi time.Time) (Probe, []Probe, error) {
	var log []Probe
	best := Probe{Timestamp: lo, Score: -1}
	for t := lo; !t.After(hi); t = t.Add(time.Minute) {
		if err := ctx.Err(); err != nil {
			return Probe{}, nil, types.Aborted("finder.refine", err)
		}
		res, err := f.scorer.Score(ctx, kind, t)
		if err != nil {
			continue
		}
		probe := Probe{Timestamp: t, Score: res.Score}
		log = append(log, probe)
		if probe.Score > best.Score {
			best = probe
		}
	}
	if best.Score < 0 {
		best = Probe{Timestamp: lo, Score: 0}
	}
	return best, log, nil
}

// validateStability compares record counts at t-2min, t, t+2min (§4.D
// step 4), probing all three concurrently via errgroup.
func (f *Finder) validateStability(ctx context.Context, kind types.EntityKind, t time.Time) (bool, int, error) {
	offsets := []time.Duration{-stabilityOffset, 0, stabilityOffset}
	counts := make([]int, len(offsets))

	g, gctx := errgroup.WithContext(ctx)
	for i, off := range offsets {
		i, off := i, off
		g.Go(func() error {
			records, err := f.store.AsOf(gctx, kind.Name, t.Add(off), nil)
			if err != nil {
				return types.StoreFailure("finder.validateStability", err)
			}
			counts[i] = len(records)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, 0, err
	}

	stable := counts[0] == counts[1] && counts[1] == counts[2]
	maxDelta := 0
	for _, c := range counts {
		if d := abs(c - counts[1]); d > maxDelta {
			maxDelta = d
		}
	}
	return stable, maxDelta, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// synthesizeConfidence is §4.D step 5.
func synthesizeConfidence(healthScore int, stable bool, bestScore int) int {
	confidence := healthScore
	if stable {
		confidence += 10
	} else {
		confidence -= 5
	}
	boundaryClarity := float64(bestScore) / 100
	if boundaryClarity > 1 {
		boundaryClarity = 1
	}
	switch {
	case boundaryClarity > 0.9:
		confidence += 10
	case boundaryClarity > 0.7:
		confidence += 5
	}
	return clamp(confidence, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// warningsFor implements §4.D step 6's warning conditions.
func warningsFor(confidence int, stable bool, variance int) []string {
	var warnings []string
	if confidence < 70 {
		warnings = append(warnings, fmt.Sprintf("confidence %d%% is below the 70%% caution threshold", confidence))
	}
	if !stable {
		warnings = append(warnings, "record counts are not stable around the chosen timestamp; it may fall mid-transaction")
	}
	if variance > 5 {
		warnings = append(warnings, fmt.Sprintf("record count variance of %d around the chosen timestamp exceeds 5", variance))
	}
	return warnings
}

// explainChoice synthesizes a human-readable reason, grounded on
// smart_restore_algorithm.py's _explain_choice (SPEC_FULL.md §4).
func explainChoice(best Probe, level health.Level, stable bool) string {
	stability := "a stable"
	if !stable {
		stability = "an unstable"
	}
	return fmt.Sprintf("selected %s (score %d, %s) as the best candidate after binary search; record counts around it are %s",
		best.Timestamp.Format(time.RFC3339), best.Score, level, stability)
}

// topAlternatives returns up to 3 of the highest-scoring probes seen
// during the search, excluding the chosen optimum, highest score first;
// probes with equal scores keep the order in which they were evaluated.
func topAlternatives(probes []Probe, optimal time.Time) []Probe {
	filtered := make([]Probe, 0, len(probes))
	for _, p := range probes {
		if !p.Timestamp.Equal(optimal) {
			filtered = append(filtered, p)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > 3 {
		filtered = filtered[:3]
	}
	return filtered
}
