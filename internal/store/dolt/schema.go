//go:build cgo

package dolt

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/flightvault/recovery/internal/telemetry"
)

// ensureTable creates kind's backing table if it does not already exist.
// Every kind gets the same two-column shape — pk plus a JSON payload — since
// the adapter is registry-driven and has no compile-time schema per kind;
// Dolt's automatic per-commit history on this table is what AsOf/Between/
// Audit read from.
func (s *DoltStore) ensureTable(ctx context.Context, kind string) error {
	s.mu.RLock()
	known := s.knownTables[kind]
	s.mu.RUnlock()
	if known {
		return nil
	}

	if err := validateIdentifier(kind); err != nil {
		return err
	}

	ctx, span := telemetry.Tracer.Start(ctx, "dolt.ensure_table",
		trace.WithAttributes(telemetry.StoreSpanAttrs(kind, "ensure_table")...))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	//nolint:gosec // G201: kind validated by validateIdentifier above
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (pk VARCHAR(255) PRIMARY KEY, data JSON NOT NULL)", kind)
	spanErr = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query)
		return err
	})
	if spanErr != nil {
		return fmt.Errorf("dolt: failed to ensure table %q: %w", kind, spanErr)
	}

	s.mu.Lock()
	s.knownTables[kind] = true
	s.mu.Unlock()
	return nil
}
