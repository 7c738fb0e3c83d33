package models

import (
	"time"

	"gorm.io/gorm"
)

type TransactionType string
type TransactionStatus string

const (
	TransactionDeposit          TransactionType = "deposit"
	TransactionMilestoneRelease TransactionType = "milestone_release"
	TransactionDisputeRefund    TransactionType = "dispute_refund"
	TransactionDisputePayment   TransactionType = "dispute_payment"
	TransactionAdminAdjustment  TransactionType = "admin_adjustment"
	TransactionRefund           TransactionType = "refund"
)

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction is the project-facing ledger entry, distinct from wallet-level
// entries. For any project, deposits must always cover releases, fees and
// dispute payments; the ledger enforces this before creating a row.
// IdempotencyKey is nil on rows that carry no settlement key; the unique
// index only constrains keyed rows.
type Transaction struct {
	ID             uint              `gorm:"primarykey" json:"id"`
	ProjectID      uint              `gorm:"not null;index" json:"project_id"`
	MilestoneID    *uint             `gorm:"index" json:"milestone_id,omitempty"`
	DisputeID      *uint             `gorm:"index" json:"dispute_id,omitempty"`
	Type           TransactionType   `gorm:"type:varchar(30);not null;index" json:"type"`
	Amount         int64             `gorm:"not null" json:"amount"`
	Status         TransactionStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Reference      string            `gorm:"uniqueIndex;not null" json:"reference"`
	IdempotencyKey *string           `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	Provider       string            `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderRef    string            `gorm:"type:varchar(100)" json:"provider_ref,omitempty"`
	Description    string            `gorm:"type:text" json:"description"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DeletedAt      gorm.DeletedAt    `gorm:"index" json:"-"`

	Project   Project    `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Milestone *Milestone `gorm:"foreignKey:MilestoneID" json:"milestone,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}
