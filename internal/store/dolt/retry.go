//go:build cgo

package dolt

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flightvault/recovery/internal/telemetry"
)

// serverRetryMaxElapsed bounds how long withRetry keeps retrying a
// transient server-mode connection error before giving up.
const serverRetryMaxElapsed = 30 * time.Second

func newServerRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = serverRetryMaxElapsed
	return bo
}

// isRetryableError reports whether err is a transient server-mode
// connection error worth retrying, rather than a deterministic failure.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
		"unknown database",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

// withRetry runs op, retrying transient server-mode errors with exponential
// backoff. Embedded mode has driver-level retry on open already, so this is
// a no-op pass-through there.
func (s *DoltStore) withRetry(ctx context.Context, op func() error) error {
	if !s.serverMode {
		return op()
	}

	attempts := 0
	bo := newServerRetryBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		telemetry.Metrics.RetryCount.Add(ctx, int64(attempts-1))
	}
	return err
}
