package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: MemoryPath, MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrator_Run(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, zap.NewNop())

	require.NoError(t, m.Run())
	// second run is a no-op
	require.NoError(t, m.Run())

	for _, table := range []string{
		"tasks", "pending_transactions", "payouts", "transactions",
		"withdrawals", "disputes", "user_stats", "escrow_holds",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":      {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestLoadMigrations_Invalid(t *testing.T) {
	t.Run("bad filename", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{"init.sql": {Data: []byte("")}})
		assert.Error(t, err)
	})

	t.Run("duplicate version", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{
			"001_a.sql": {Data: []byte("")},
			"001_b.sql": {Data: []byte("")},
		})
		assert.Error(t, err)
	})
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	a := openMemory(t)
	b := openMemory(t)

	_, err := a.Exec("CREATE TABLE only_in_a (id INTEGER)")
	require.NoError(t, err)

	var name string
	err = b.QueryRow("SELECT name FROM sqlite_master WHERE name='only_in_a'").Scan(&name)
	assert.Error(t, err)
}
