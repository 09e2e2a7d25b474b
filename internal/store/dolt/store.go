//go:build cgo

// Package dolt implements store.Adapter against Dolt, a version-controlled,
// MySQL-compatible database. Every entity kind lives in its own table with
// a primary-key column and a JSON payload column; Dolt's automatic
// per-commit history (exposed through dolt_history_<table>) gives every
// write a retained prior version for free, which is what lets AsOf/
// Between/Audit work without a bespoke temporal schema.
//
// Connection modes, same as the teacher:
//   - Embedded: in-process via github.com/dolthub/driver (CGO required)
//   - Server: TCP to a running `dolt sql-server` via go-sql-driver/mysql
//     (a pure-Go driver — the mode a long-running recovery service should
//     prefer). The whole package, server mode included, builds only with
//     CGO enabled; without CGO, store_nocgo.go replaces it with a stub.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"
)

// Config holds Dolt connection configuration (§6 store backend).
type Config struct {
	Path           string        // Embedded mode: directory holding the Dolt database
	CommitterName  string        // Git-style committer name for embedded commits
	CommitterEmail string        // Git-style committer email for embedded commits
	Database       string        // Database name (default: "flightvault_recovery")
	ReadOnly       bool          // Skip schema initialization, refuse writes
	OpenTimeout    time.Duration // Unused unless a future lock strategy needs it

	ServerMode     bool   // Connect to a running dolt sql-server instead of embedding
	ServerHost     string // default: 127.0.0.1
	ServerPort     int    // default: DefaultSQLPort
	ServerUser     string // default: root
	ServerPassword string // default: "", or FLIGHTVAULT_DOLT_PASSWORD
	ServerTLS      bool
}

// DefaultSQLPort is the default dolt sql-server MySQL-protocol port.
const DefaultSQLPort = 3307

// DoltStore implements store.Adapter against a Dolt database.
type DoltStore struct {
	db         *sql.DB
	database   string
	readOnly   bool
	serverMode bool

	// embeddedConnector is non-nil only in embedded mode; it must be closed
	// to release the filesystem locks the embedded engine holds.
	embeddedConnector io.Closer

	mu          sync.RWMutex
	knownTables map[string]bool // tables ensureTable has already created this process
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = "flightvault_recovery"
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = os.Getenv("GIT_AUTHOR_NAME")
		if cfg.CommitterName == "" {
			cfg.CommitterName = "flightvault-recovery"
		}
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = os.Getenv("GIT_AUTHOR_EMAIL")
		if cfg.CommitterEmail == "" {
			cfg.CommitterEmail = "flightvault-recovery@local"
		}
	}
	if cfg.ServerMode {
		if cfg.ServerHost == "" {
			cfg.ServerHost = "127.0.0.1"
		}
		if cfg.ServerPort == 0 {
			cfg.ServerPort = DefaultSQLPort
		}
		if cfg.ServerUser == "" {
			cfg.ServerUser = "root"
		}
		if cfg.ServerPassword == "" {
			cfg.ServerPassword = os.Getenv("FLIGHTVAULT_DOLT_PASSWORD")
		}
	}
}

// New opens a DoltStore. Server mode connects over TCP through a pure-Go
// driver (server.go); embedded mode opens Dolt in-process (embedded.go).
// Both exist only in CGO builds — builds without CGO fall back to
// store_nocgo.go's stub.
func New(ctx context.Context, cfg *Config) (*DoltStore, error) {
	if cfg.ServerMode && cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("dolt: database path is required")
	}
	applyConfigDefaults(cfg)

	if cfg.ServerMode {
		return newServerMode(ctx, cfg)
	}
	return newEmbeddedMode(ctx, cfg)
}

// Close releases the underlying connection pool and, in embedded mode, the
// filesystem locks held by the embedded engine.
func (s *DoltStore) Close() error {
	err := s.db.Close()
	if s.embeddedConnector != nil {
		if cerr := s.embeddedConnector.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// UnderlyingDB exposes the raw *sql.DB, mainly for migrations/tests.
func (s *DoltStore) UnderlyingDB() *sql.DB {
	return s.db
}

// identifierPattern bounds table/database names used in interpolated SQL
// (Dolt/MySQL do not support bind parameters for identifiers).
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("dolt: invalid identifier %q", name)
	}
	return nil
}
