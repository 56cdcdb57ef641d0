package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"predict_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// pragmas make every committed transaction durable before the call returns.
const pragmas = "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// Storage owns the SQLite database shared by the queue, the ledger and settings.
type Storage struct {
	db   *gorm.DB
	path string
}

// Open creates or opens the SQLite database at path and migrates the schema.
func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, errors.New("storage path is empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path+pragmas), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	// SQLite allows one writer; a single connection also serialises transactions.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.QueueEntry{}, &SignalRecord{}, &domain.AppConfig{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	for _, stmt := range ledgerTriggers {
		if err := db.Exec(stmt).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to install ledger trigger: %w", err)
		}
	}

	return &Storage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.path
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Settings Operations
// ======================================================================================

// SaveConfigs upserts runtime settings in one transaction.
func (s *Storage) SaveConfigs(ctx context.Context, kv map[string]string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range kv {
			if err := tx.Save(&domain.AppConfig{Key: key, Value: value}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewDurabilityError("save_config", err)
	}
	return nil
}

// LoadConfig reads a runtime setting. ok is false when the key is absent.
func (s *Storage) LoadConfig(ctx context.Context, key string) (string, bool, error) {
	var cfg domain.AppConfig
	err := s.db.WithContext(ctx).First(&cfg, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil // Not found is not an error
	}
	if err != nil {
		return "", false, domain.NewDurabilityError("load_config", err)
	}
	return cfg.Value, true, nil
}

// LoadConfigMap loads all runtime settings as a map.
func (s *Storage) LoadConfigMap(ctx context.Context) (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.WithContext(ctx).Find(&configs).Error; err != nil {
		return nil, domain.NewDurabilityError("load_config", err)
	}

	result := make(map[string]string, len(configs))
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
