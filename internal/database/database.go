package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the database at dbPath into the package-level DB.
func Init(dbPath string) error {
	if dbPath != ":memory:" {
		if dbDir := filepath.Dir(dbPath); dbDir != "" {
			if err := os.MkdirAll(dbDir, 0700); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := Open(dbPath, logger.Warn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open opens and migrates a SQLite database. Tests pass ":memory:".
func Open(dbPath string, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers, which SQLite does anyway.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping reports whether the package-level database answers.
func Ping() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
