package models

import (
	"time"

	"gorm.io/gorm"
)

type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectFunded    ProjectStatus = "funded"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project ties a client and a freelancer to a budget held in escrow. The sum
// of its milestone amounts must equal Budget at creation time.
type Project struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	ClientID        uint           `gorm:"not null;index" json:"client_id"`
	FreelancerID    uint           `gorm:"not null;index" json:"freelancer_id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Budget          int64          `gorm:"not null" json:"budget"`
	Currency        string         `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`
	AutoApproveDays int            `gorm:"not null;default:7" json:"auto_approve_days"`
	Status          ProjectStatus  `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	FundedAt        *time.Time     `json:"funded_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Client     User        `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Freelancer User        `gorm:"foreignKey:FreelancerID" json:"freelancer,omitempty"`
	Milestones []Milestone `gorm:"foreignKey:ProjectID" json:"milestones,omitempty"`
}

func (Project) TableName() string {
	return "projects"
}
