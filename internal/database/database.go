package database

import (
	"fmt"
	"os"

	"github.com/ksred/escrow-api/internal/database/migrations"
	"github.com/ksred/escrow-api/internal/escrow"
	"github.com/ksred/escrow-api/internal/ledger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
// The database file defaults to escrow.db and can be overridden via DB_PATH
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "escrow.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddReceiptsAndEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&escrow.Order{},
		&escrow.IdempotencyRecord{},
		&ledger.Account{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
