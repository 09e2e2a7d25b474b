//go:build !cgo

// Package dolt, in non-CGO builds, stubs out the Dolt backend entirely: the
// embedded driver (github.com/dolthub/driver) requires CGO, and rather than
// split the backend into a CGO-only embedded path and a CGO-free server
// path, every method here returns errNoCGO so binaries without CGO_ENABLED
// still compile against store.Adapter — they simply cannot use this
// backend at runtime.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

var errNoCGO = fmt.Errorf("dolt: this binary was built without CGO support; rebuild with CGO_ENABLED=1")

// Config mirrors the CGO Config struct for API compatibility.
type Config struct {
	Path           string
	CommitterName  string
	CommitterEmail string
	Database       string
	ReadOnly       bool
	OpenTimeout    time.Duration

	ServerMode     bool
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
	ServerTLS      bool
}

// DefaultSQLPort is the default dolt sql-server MySQL-protocol port.
const DefaultSQLPort = 3307

// DoltStore is a stub in non-CGO builds.
type DoltStore struct{}

// New returns errNoCGO in non-CGO builds.
func New(_ context.Context, _ *Config) (*DoltStore, error) {
	return nil, errNoCGO
}

func (s *DoltStore) Close() error         { return nil }
func (s *DoltStore) UnderlyingDB() *sql.DB { return nil }

func (s *DoltStore) AsOf(_ context.Context, _ string, _ time.Time, _ store.Filters) ([]types.Record, error) {
	return nil, errNoCGO
}

func (s *DoltStore) Current(_ context.Context, _ string, _ store.Filters) ([]types.Record, error) {
	return nil, errNoCGO
}

func (s *DoltStore) Between(_ context.Context, _ string, _, _ time.Time) ([]store.BetweenEntry, error) {
	return nil, errNoCGO
}

func (s *DoltStore) Audit(_ context.Context, _ string, _ int) ([]store.AuditEntry, error) {
	return nil, errNoCGO
}

func (s *DoltStore) UpsertBatch(_ context.Context, _ store.Tx, _, _ string, _ []types.Record) (store.UpsertResult, error) {
	return store.UpsertResult{}, errNoCGO
}

func (s *DoltStore) TxBegin(_ context.Context) (store.Tx, error) {
	return nil, errNoCGO
}

var _ store.Adapter = (*DoltStore)(nil)
