package models

import (
	"time"

	"gorm.io/gorm"
)

type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "pending"
	MilestoneInProgress        MilestoneStatus = "in_progress"
	MilestoneSubmitted         MilestoneStatus = "submitted"
	MilestoneApproved          MilestoneStatus = "approved"
	MilestoneRevisionRequested MilestoneStatus = "revision_requested"
	MilestoneDisputed          MilestoneStatus = "disputed"
)

// Milestone is a priced, deadline-bound unit of work. Status moves only
// through the lifecycle controller; rows are never deleted once a
// transaction references them.
type Milestone struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	ProjectID          uint            `gorm:"not null;index" json:"project_id"`
	Title              string          `gorm:"not null" json:"title"`
	Amount             int64           `gorm:"not null" json:"amount"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	AcceptanceCriteria string          `gorm:"type:text" json:"acceptance_criteria"`
	Status             MilestoneStatus `gorm:"type:varchar(30);not null;default:'pending'" json:"status"`
	SubmittedAt        *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	DeletedAt          gorm.DeletedAt  `gorm:"index" json:"-"`

	Project         Project            `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Deliverables    []Deliverable      `gorm:"foreignKey:MilestoneID" json:"deliverables,omitempty"`
	RevisionHistory []MilestoneRevision `gorm:"foreignKey:MilestoneID" json:"revision_history,omitempty"`
}

func (Milestone) TableName() string {
	return "milestones"
}

// Deliverable is a reference submitted with a milestone; file bytes live in
// the external storage collaborator.
type Deliverable struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	MilestoneID uint      `gorm:"not null;index" json:"milestone_id"`
	URL         string    `gorm:"type:text;not null" json:"url"`
	Note        string    `gorm:"type:text" json:"note,omitempty"`
	SubmittedBy uint      `gorm:"not null" json:"submitted_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Deliverable) TableName() string {
	return "milestone_deliverables"
}

// MilestoneRevision is one entry of the ordered revision log.
type MilestoneRevision struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	MilestoneID uint      `gorm:"not null;index" json:"milestone_id"`
	RequestedBy uint      `gorm:"not null" json:"requested_by"`
	Notes       string    `gorm:"type:text;not null" json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

func (MilestoneRevision) TableName() string {
	return "milestone_revisions"
}
