package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/StreamPass/app/models"
)

func TestOpen_SQLiteMigratesAllModels(t *testing.T) {
	db, err := Open(Config{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, m := range models.All() {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}
	assert.True(t, db.Migrator().HasIndex(&models.LedgerEntry{}, "ux_ledger_entries_idempotency_key"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm sentinel", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"sqlite message", errors.New("constraint failed: UNIQUE constraint failed: purchases.idempotency_key (2067)"), true},
		{"mysql message", errors.New("Error 1062 (23000): Duplicate entry 'x' for key 'ux_purchases_idempotency_key'"), true},
		{"other", gorm.ErrRecordNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKey(tt.err))
		})
	}
}

func TestClose_NoHandle(t *testing.T) {
	prev := DB
	DB = nil
	t.Cleanup(func() { DB = prev })
	assert.NoError(t, Close())
}
