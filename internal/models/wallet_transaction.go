package models

import (
	"time"

	"gorm.io/gorm"
)

type WalletTransactionType string
type WalletTransactionStatus string

const (
	WalletTxDeposit          WalletTransactionType = "deposit"
	WalletTxWithdrawal       WalletTransactionType = "withdrawal"
	WalletTxTransfer         WalletTransactionType = "transfer"
	WalletTxProjectFunds     WalletTransactionType = "project_funds"
	WalletTxProjectRefund    WalletTransactionType = "project_refund"
	WalletTxMilestonePayment WalletTransactionType = "milestone_payment"
	WalletTxMilestoneIncome  WalletTransactionType = "milestone_income"
	WalletTxRefund           WalletTransactionType = "refund"
	WalletTxFee              WalletTransactionType = "fee"
	WalletTxAdminAdjustment  WalletTransactionType = "admin_adjustment"
)

const (
	WalletTxPending   WalletTransactionStatus = "pending"
	WalletTxCompleted WalletTransactionStatus = "completed"
	WalletTxFailed    WalletTransactionStatus = "failed"
	WalletTxRefunded  WalletTransactionStatus = "refunded"
)

// WalletTransaction is the immutable-once-completed record of a
// balance-affecting event. Transitions pending -> completed|failed exactly
// once; completed may later become refunded only via a new reversing row
// plus the status flip, never by editing amounts.
type WalletTransaction struct {
	ID             uint                    `gorm:"primarykey" json:"id"`
	Type           WalletTransactionType   `gorm:"type:varchar(30);not null;index" json:"type"`
	Status         WalletTransactionStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Amount         int64                   `gorm:"not null" json:"amount"`
	Currency       string                  `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`
	FromWalletID   *uint                   `gorm:"index" json:"from_wallet_id,omitempty"`
	ToWalletID     *uint                   `gorm:"index" json:"to_wallet_id,omitempty"`
	Reference      string                  `gorm:"uniqueIndex;not null" json:"reference"`
	IdempotencyKey *string                 `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	Description    string                  `gorm:"type:text" json:"description"`

	PlatformFee  int64 `gorm:"not null;default:0" json:"platform_fee"`
	ProcessorFee int64 `gorm:"not null;default:0" json:"processor_fee"`
	TotalFee     int64 `gorm:"not null;default:0" json:"total_fee"`

	ProjectID   *uint `gorm:"index" json:"project_id,omitempty"`
	MilestoneID *uint `gorm:"index" json:"milestone_id,omitempty"`
	DisputeID   *uint `gorm:"index" json:"dispute_id,omitempty"`

	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	FromWallet *Wallet `gorm:"foreignKey:FromWalletID" json:"from_wallet,omitempty"`
	ToWallet   *Wallet `gorm:"foreignKey:ToWalletID" json:"to_wallet,omitempty"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
