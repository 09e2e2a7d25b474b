//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// newEmbeddedMode opens Dolt in-process. Requires CGO.
func newEmbeddedMode(ctx context.Context, cfg *Config) (*DoltStore, error) {
	if err := validateIdentifier(cfg.Database); err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(cfg.Path); statErr == nil && !info.IsDir() {
		return nil, fmt.Errorf("dolt: database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("dolt: failed to create database directory: %w", err)
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("dolt: failed to resolve absolute path: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s",
		absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)

	if !cfg.ReadOnly {
		if err := withEmbeddedDolt(ctx, initDSN, func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
			return err
		}); err != nil {
			return nil, fmt.Errorf("dolt: failed to create database: %w", err)
		}
	}

	db, connector, err := openEmbeddedConnection(dbDSN)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("dolt: failed to ping embedded database: %w", err)
	}

	return &DoltStore{
		db:                db,
		database:          cfg.Database,
		readOnly:          cfg.ReadOnly,
		serverMode:        false,
		embeddedConnector: connector,
		knownTables:       make(map[string]bool),
	}, nil
}

// withEmbeddedDolt opens a short-lived connection against dsn, runs fn, and
// closes it — used for the one-shot CREATE DATABASE IF NOT EXISTS step
// before the long-lived connection is opened against the named database.
func withEmbeddedDolt(ctx context.Context, dsn string, fn func(context.Context, *sql.DB) error) error {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("dolt: failed to parse DSN: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return fmt.Errorf("dolt: failed to create connector: %w", err)
	}
	defer connector.Close()

	db := sql.OpenDB(connector)
	defer db.Close()

	return fn(ctx, db)
}

func openEmbeddedConnection(dsn string) (*sql.DB, *embedded.Connector, error) {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("dolt: failed to parse DSN: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dolt: failed to create connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Embedded Dolt is single-writer, but capping at exactly one connection
	// would self-deadlock the moment ensureTable's CREATE TABLE IF NOT
	// EXISTS (run on the shared pool) lands while the Executor already
	// holds the pool's only connection for an open write transaction. Two
	// connections is enough slack for that case; the Executor still only
	// ever runs one write transaction at a time.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	return db, connector, nil
}
