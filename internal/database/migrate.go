package database

import (
	"fmt"

	"gorm.io/gorm"

	"contralock/internal/models"
)

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.Project{},
		&models.Milestone{},
		&models.Deliverable{},
		&models.MilestoneRevision{},
		&models.Transaction{},
		&models.Dispute{},
		&models.DisputeEvidence{},
		&models.DisputeMessage{},
		&models.AuditTrail{},
		&models.Job{},
		&models.DomainEvent{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
