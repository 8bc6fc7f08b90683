package migrations

import (
	"github.com/ksred/escrow-api/internal/escrow"
	"gorm.io/gorm"
)

func AddReceiptsAndEvents(db *gorm.DB) error {
	// Create the new tables
	if err := db.AutoMigrate(&escrow.Receipt{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&escrow.EscrowEvent{}); err != nil {
		return err
	}

	return nil
}
