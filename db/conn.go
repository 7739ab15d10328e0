// Package db opens the metadata store and keeps its schema up to date
package db

import (
	"errors"
	"fmt"
	"os"

	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/pkg/util"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table owned by the pipeline, in migration order
var Models = []any{
	&model.MediaFile{},
	&model.ContentFingerprint{},
	&model.ProcessedVariant{},
	&model.ModerationRecord{},
	&model.Tag{},
	&model.TagAssociation{},
	&model.UsageRecord{},
	&model.Job{},
}

func New(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		// If running in a container don't allow the sqlite file to be created.
		// The host should instead mount it using volumes
		if util.InContainer() {
			if _, err := os.Stat(dsn); errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("SQLite database file not mounted, please mount it as a volume to /app/%s", dsn)
			}
		}

		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database, %w", driver, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return nil
}

// NewMemory returns a migrated in-memory sqlite database. A single
// connection is kept open, every new connection would see an empty database.
func NewMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database, %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}
