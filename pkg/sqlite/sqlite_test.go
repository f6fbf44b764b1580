package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceAppendsPragmas(t *testing.T) {
	c := Config{DSN: "sessions.db", BusyTimeout: 100}
	assert.Equal(t, "sessions.db?_pragma=busy_timeout(100)&_pragma=journal_mode(WAL)", c.dataSource())

	c.DSN = "file:x.db?cache=shared"
	assert.Equal(t, "file:x.db?cache=shared&_pragma=busy_timeout(100)&_pragma=journal_mode(WAL)", c.dataSource())
}

func TestOpen(t *testing.T) {
	c := Config{DSN: filepath.Join(t.TempDir(), "test.db"), BusyTimeout: 1000}

	db, err := c.Open(context.Background())
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpenEmptyDSN(t *testing.T) {
	_, err := (&Config{}).Open(context.Background())
	assert.Error(t, err)
}
