package db

import (
	"fmt"

	"github.com/zulandar/storyforge/internal/config"
	"github.com/zulandar/storyforge/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model stored in the run-history database.
func AllModels() []interface{} {
	return []interface{}{
		&models.BuildRun{},
		&models.BuildLogEntry{},
	}
}

// AutoMigrate creates or updates the run-history tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Prepare opens the configured database and migrates it. For MySQL the
// database itself is created first when missing.
func Prepare(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver == "mysql" {
		admin, err := ConnectAdmin(cfg)
		if err != nil {
			return nil, err
		}
		err = CreateDatabase(admin, cfg.Name)
		Close(admin)
		if err != nil {
			return nil, err
		}
	}
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		Close(db)
		return nil, err
	}
	return db, nil
}
