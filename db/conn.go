// Package db contains things related to the metadata database
package db

import (
	"errors"
	"fmt"
	"os"

	"foldly/upload-api/config"
	"foldly/upload-api/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func New(c config.DB) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch c.Driver {
	case "postgres":
		dialector = postgres.Open(c.DSN)
	case "sqlite":
		// If running in a docker container don't allow the sqlite file to be created.
		// The host should instead mount it using volumes
		if runningInDocker() && c.DSN != ":memory:" {
			if _, err := os.Stat(c.DSN); errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("SQLite database file not mounted, please use docker volumes to mount it to %s", c.DSN)
			}
		}

		dialector = sqlite.Open(c.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database, %w", c.Driver, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(model.File{}, model.Stats{}, model.Workspace{}, model.Folder{}, model.Link{}, model.Batch{})
	if err != nil {
		return fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return nil
}

func runningInDocker() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}
