//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
)

// newServerMode connects to a running dolt sql-server via the MySQL wire
// protocol through a pure-Go driver, the mode a long-running recovery
// service should prefer. Like the rest of this package it is compiled only
// in CGO builds.
func newServerMode(ctx context.Context, cfg *Config) (*DoltStore, error) {
	if err := validateIdentifier(cfg.Database); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.ServerHost, fmt.Sprintf("%d", cfg.ServerPort))
	conn, dialErr := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if dialErr != nil {
		return nil, fmt.Errorf("dolt: server unreachable at %s: %w", addr, dialErr)
	}
	_ = conn.Close()

	db, err := openServerConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dolt: failed to ping server database: %w", err)
	}

	return &DoltStore{
		db:          db,
		database:    cfg.Database,
		readOnly:    cfg.ReadOnly,
		serverMode:  true,
		knownTables: make(map[string]bool),
	}, nil
}

func buildServerDSN(cfg *Config, database string) string {
	userPart := cfg.ServerUser
	if cfg.ServerPassword != "" {
		userPart = fmt.Sprintf("%s:%s", cfg.ServerUser, cfg.ServerPassword)
	}
	dbPart := "/"
	if database != "" {
		dbPart = "/" + database
	}
	params := "parseTime=true"
	if cfg.ServerTLS {
		params += "&tls=true"
	}
	return fmt.Sprintf("%s@tcp(%s:%d)%s?%s", userPart, cfg.ServerHost, cfg.ServerPort, dbPart, params)
}

func openServerConnection(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", buildServerDSN(cfg, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("dolt: failed to open server connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	initDB, err := sql.Open("mysql", buildServerDSN(cfg, ""))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dolt: failed to open init connection: %w", err)
	}
	defer initDB.Close()

	//nolint:gosec // G201: cfg.Database validated by validateIdentifier above
	_, err = initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
	if err != nil {
		errLower := strings.ToLower(err.Error())
		if !strings.Contains(errLower, "database exists") && !strings.Contains(errLower, "1007") {
			_ = db.Close()
			return nil, fmt.Errorf("dolt: failed to create database: %w", err)
		}
	}

	// After CREATE DATABASE the server's in-memory catalog may lag briefly;
	// the next ping against the named database can fail with "unknown
	// database" until it catches up.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(func() error {
		pingErr := db.PingContext(ctx)
		if pingErr != nil && isRetryableError(pingErr) {
			return pingErr
		}
		if pingErr != nil {
			return backoff.Permanent(pingErr)
		}
		return nil
	}, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dolt: database %q not available after create: %w", cfg.Database, err)
	}

	return db, nil
}
