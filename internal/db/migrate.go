package db

import (
	"fleetsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Driver{},
		&models.Vehicle{},
		&models.Trip{},
		&models.Earning{},
		&models.Payment{},
		&models.StateLog{},
		&models.SyncCursor{},
		&models.SessionCredential{},
		&models.CompanyMapping{},
	)
}
