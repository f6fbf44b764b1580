package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type Config struct {
	DSN         string `envconfig:"SQLITE_DSN" default:"sessions.db"`
	BusyTimeout int    `envconfig:"SQLITE_BUSY_TIMEOUT_MS" default:"5000"`
}

// dataSource appends the pragmas every connection needs.
func (c *Config) dataSource() string {
	sep := "?"
	if strings.Contains(c.DSN, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", c.DSN, sep, c.BusyTimeout)
}

// Open opens the database and verifies the connection.
func (c *Config) Open(ctx context.Context) (*sql.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	db, err := sql.Open("sqlite", c.dataSource())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single writer connection keeps WAL upserts from contending
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}
