package services

import (
	"testing"

	"darwin-ladder-service/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a throwaway in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Player{},
		&models.Match{},
		&models.GeneLedgerEntry{},
		&models.EncounterTemplate{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
