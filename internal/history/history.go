// Package history records the outcome of every webhook request in SQLite.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one processed request.
type Record struct {
	gorm.Model
	RequestID         string `gorm:"index"`
	OriginalMessageID string `gorm:"index"`
	RelayMessageID    string
	From              string
	Subject           string
	Score             int
	Status            string
	Reason            string
	Diagnostic        string
}

// Store persists Records.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts r.
func (s *Store) Save(ctx context.Context, r *Record) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to save history record: %w", err)
	}
	return nil
}

// Recent returns the newest n records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	var records []Record
	err := s.db.WithContext(ctx).Order("id desc").Limit(n).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return records, nil
}

// SeenOriginal reports whether a message with this original Message-ID was
// already relayed.
func (s *Store) SeenOriginal(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("original_message_id = ? AND status = ?", messageID, "relayed").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query history: %w", err)
	}
	return count > 0, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
