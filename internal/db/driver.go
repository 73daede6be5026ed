// Package db wraps gorm the way the teacher's database/gorm package does:
// a Driver enum mapped to a concrete Dialector, a Config struct read by
// internal/appconfig, and repositories layered on top for Stream,
// TAKServer and CallsignMapping persistence (spec.md §3, §9).
package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/trakbridge/trakbridge/internal/models"
)

// Driver identifies the SQL dialect, following database/gorm.Driver's
// lowercase string enum (spec.md §9 "SQLite, PostgreSQL, MySQL/MariaDB").
type Driver string

const (
	DriverSQLite     Driver = "sqlite"
	DriverPostgreSQL Driver = "postgres"
	DriverMySQL      Driver = "mysql"
)

// DriverFromString parses a config value case-insensitively, defaulting to
// DriverSQLite for the single-process/single-writer deployment mode (spec.md
// §9 "Single-worker SQLite").
func DriverFromString(s string) Driver {
	switch strings.ToLower(s) {
	case string(DriverPostgreSQL), "psql":
		return DriverPostgreSQL
	case string(DriverMySQL), "mariadb":
		return DriverMySQL
	default:
		return DriverSQLite
	}
}

func (d Driver) dialector(dsn string) gorm.Dialector {
	switch d {
	case DriverPostgreSQL:
		return postgres.Open(dsn)
	case DriverMySQL:
		return mysql.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}

// Config describes how to open the database (spec.md §6 "Persistence").
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
}

// Open connects and runs AutoMigrate for the TrakBridge schema, mirroring
// database/gorm.Config.New's open-then-configure-pool sequence.
func Open(cfg Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	gdb, err := gorm.Open(cfg.Driver.dialector(cfg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// SQLite is single-writer: cap the pool at one connection so concurrent
	// Stream Workers serialize through the driver rather than hitting
	// "database is locked" more than necessary (spec.md §9 "Single-worker
	// SQLite").
	if cfg.Driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := gdb.AutoMigrate(&models.Stream{}, &models.TAKServer{}, &models.CallsignMapping{}, &streamTAKServer{}); err != nil {
		return nil, fmt.Errorf("db: automigrate: %w", err)
	}
	return gdb, nil
}
