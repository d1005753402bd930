package config

import (
	"time"

	"github.com/yoockh/yoovoice/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var PostgresDB *gorm.DB

// InitPostgres opens the archive database. It returns ErrNotConfigured when
// POSTGRES_URI is empty.
func InitPostgres(s Settings) (*gorm.DB, error) {
	if s.PostgresURI == "" {
		return nil, ErrNotConfigured
	}
	db, err := gorm.Open(postgres.Open(s.PostgresURI), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection Pooling settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	PostgresDB = db
	return db, nil
}

// MigratePostgres creates the archive tables and the (thread_id, seq) index.
func MigratePostgres(db *gorm.DB) error {
	return db.AutoMigrate(&models.ConversationLog{}, &models.Profile{})
}

func ClosePostgres() error {
	if PostgresDB == nil {
		return nil
	}
	sqlDB, err := PostgresDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
