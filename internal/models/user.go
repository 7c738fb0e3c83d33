package models

import (
	"time"

	"gorm.io/gorm"
)

// User carries only what the settlement core needs: identity, role, and the
// 1:1 wallet link. Signup, OTP, and profile editing live in the identity
// service.
type User struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	FullName    string         `gorm:"not null" json:"full_name"`
	Email       string         `gorm:"uniqueIndex;not null" json:"email"`
	UserTag     string         `gorm:"uniqueIndex;not null" json:"user_tag"`
	Role        string         `gorm:"default:'user'" json:"role"` // 'user', 'mediator', 'arbitrator' or 'admin'
	IsSuspended bool           `gorm:"default:false" json:"is_suspended"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Wallet *Wallet `gorm:"foreignKey:UserID" json:"wallet,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

func (u *User) CanPerformAction() bool {
	return !u.IsSuspended
}
