package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
)

// SQLiteStorage keeps session fields in a single table keyed by (user_id, field).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db, now: time.Now}
}

// Init creates the session_fields and session_locks tables if they do not exist.
func (s *SQLiteStorage) Init(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS session_fields (
        user_id    TEXT    NOT NULL,
        field      TEXT    NOT NULL,
        value      BLOB    NOT NULL,
        updated_at INTEGER NOT NULL,
        PRIMARY KEY (user_id, field)
    );`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create session_fields table: %w", err)
	}

	locks := `
    CREATE TABLE IF NOT EXISTS session_locks (
        user_id    TEXT    NOT NULL PRIMARY KEY,
        token      TEXT    NOT NULL,
        expires_at INTEGER NOT NULL
    );`

	if _, err := s.db.ExecContext(ctx, locks); err != nil {
		return fmt.Errorf("failed to create session_locks table: %w", err)
	}
	logx.Debug().Msg("SQLite session_fields table initialized")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStorage) Get(ctx context.Context, userID, field string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_fields WHERE user_id = ? AND field = ?;`, userID, field,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		logx.Error().Err(err).Str("user_id", userID).Str("field", field).Msg("failed to read session field from sqlite")
		return nil, false, errx.WrapStorage(err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) Put(ctx context.Context, userID, field string, value []byte) error {
	query := `
    INSERT INTO session_fields (user_id, field, value, updated_at)
    VALUES (?, ?, ?, ?)
    ON CONFLICT(user_id, field) DO UPDATE SET
        value = excluded.value,
        updated_at = excluded.updated_at;`

	if _, err := s.db.ExecContext(ctx, query, userID, field, value, s.now().UnixMilli()); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Str("field", field).Msg("failed to write session field to sqlite")
		return errx.WrapStorage(err)
	}
	return nil
}

// TryLock inserts the lease row, or takes over one that has expired.
func (s *SQLiteStorage) TryLock(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	query := `
    INSERT INTO session_locks (user_id, token, expires_at)
    VALUES (?, ?, ?)
    ON CONFLICT(user_id) DO UPDATE SET
        token = excluded.token,
        expires_at = excluded.expires_at
    WHERE session_locks.expires_at <= ?;`

	now := s.now()
	res, err := s.db.ExecContext(ctx, query, userID, token, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to acquire session lease in sqlite")
		return false, errx.WrapStorage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.WrapStorage(err)
	}
	return n == 1, nil
}

func (s *SQLiteStorage) Unlock(ctx context.Context, userID, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_locks WHERE user_id = ? AND token = ?;`, userID, token,
	); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to release session lease in sqlite")
		return errx.WrapStorage(err)
	}
	return nil
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Locker  = (*SQLiteStorage)(nil)
)
