package models

import (
	"time"

	"gorm.io/gorm"
)

type WalletStatus string

const (
	WalletActive WalletStatus = "active"
	WalletFrozen WalletStatus = "frozen"
	WalletClosed WalletStatus = "closed"
)

// Wallet balances are integer minor units and are only ever mutated by
// applying a completed WalletTransaction. No handler or controller writes
// Balance directly.
type Wallet struct {
	ID             uint           `gorm:"primarykey" json:"id"`
	UserID         uint           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance        int64          `gorm:"not null;default:0" json:"balance"`
	LockedBalance  int64          `gorm:"not null;default:0" json:"locked_balance"`
	TotalDeposited int64          `gorm:"not null;default:0" json:"total_deposited"`
	TotalWithdrawn int64          `gorm:"not null;default:0" json:"total_withdrawn"`
	Status         WalletStatus   `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Currency       string         `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Wallet) TableName() string {
	return "wallets"
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletActive
}
