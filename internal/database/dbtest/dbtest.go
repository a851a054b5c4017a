// Package dbtest opens throwaway SQLite databases for package tests.
package dbtest

import (
	"testing"

	"github.com/sunsreach/nerris/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns an in-memory database with the shared models and any extra
// models migrated. The connection is closed when the test ends.
func Open(t testing.TB, extra ...interface{}) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	// Every new connection to :memory: is a fresh database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.MigrateShared(db); err != nil {
		t.Fatalf("migrate shared: %v", err)
	}
	if err := database.MigrateModels(db, extra); err != nil {
		t.Fatalf("migrate extra: %v", err)
	}
	return db
}
