// Package testdb provides isolated databases for package tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/StreamPass/internal/pkg/database"
	"github.com/ManuelReschke/StreamPass/internal/pkg/env"
)

// MySQLDSNEnv names a server DSN such as "root:secret@tcp(localhost:3306)/".
// When it is set every test gets a throwaway MySQL schema.
const MySQLDSNEnv = "TEST_MYSQL_DSN"

// New opens a fresh database with every model migrated.
//
// The default is a shared-cache in-memory SQLite database on a single
// connection. SQLite drops the FOR UPDATE clause, so concurrent test
// goroutines are serialised by that connection and the row lock ordering is
// not exercised. Set TEST_MYSQL_DSN to run the same tests against MySQL with
// a connection pool and real row locks.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	if dsn := env.GetEnv(MySQLDSNEnv, ""); dsn != "" {
		return newMySQL(t, dsn)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newMySQL(t testing.TB, dsn string) *gorm.DB {
	t.Helper()

	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse %s: %v", MySQLDSNEnv, err)
	}
	server, err := gorm.Open(mysql.Open(cfg.FormatDSN()), gormConfig())
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	serverDB, err := server.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}

	name := "streampass_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if err := server.Exec("CREATE DATABASE `" + name + "` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci").Error; err != nil {
		_ = serverDB.Close()
		t.Fatalf("create database %s: %v", name, err)
	}
	t.Cleanup(func() {
		_ = server.Exec("DROP DATABASE IF EXISTS `" + name + "`").Error
		_ = serverDB.Close()
	})

	cfg.DBName = name
	cfg.ParseTime = true
	db, err := gorm.Open(mysql.Open(cfg.FormatDSN()), gormConfig())
	if err != nil {
		t.Fatalf("open mysql %s: %v", name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
}
