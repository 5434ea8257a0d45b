package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"city_go/internal/domain"
)

// Storage wraps the SQLite store every engine shares.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database and migrates the schema.
func NewStorage(path string) (*Storage, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure-Go SQLite driver
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(domain.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.ensureHuman(); err != nil {
		return nil, fmt.Errorf("failed to seed human account: %w", err)
	}
	return s, nil
}

// DB exposes the underlying gorm handle for the engines.
func (s *Storage) DB() *gorm.DB {
	return s.db
}

// ensureHuman inserts the reserved human row. The human id is 0, which
// gorm would treat as unset, so the insert goes through raw SQL.
func (s *Storage) ensureHuman() error {
	return s.db.Exec(
		`INSERT OR IGNORE INTO agents (id, name, persona, status, credits, daily_free_quota, quota_used_today, created_at)
		 VALUES (?, 'human', '', 'idle', 0, 0, 0, CURRENT_TIMESTAMP)`,
		domain.HumanID,
	).Error
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
