package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB wraps both GORM and sql.DB. GORM is nil for SQLite connections.
type DB struct {
	*sql.DB
	GORM   *gorm.DB
	Driver string
}

// NewDB opens a Postgres connection through GORM.
func NewDB(connStr string) (*DB, error) {
	if connStr == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	gormDB, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("✅ Database connected (GORM)!")
	return &DB{DB: sqlDB, GORM: gormDB, Driver: "postgres"}, nil
}

// NewSQLiteDB opens a SQLite database file (or ":memory:") with the pure Go driver.
func NewSQLiteDB(path string) (*DB, error) {
	if path == "" {
		path = "plates.db"
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writes.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	log.Info().Str("path", path).Msg("✅ Database connected (SQLite)!")
	return &DB{DB: sqlDB, Driver: "sqlite"}, nil
}

func (db *DB) Close() error {
	log.Info().Msg("🔌 Closing database connection...")
	return db.DB.Close()
}
