package models

import (
	"time"

	"gorm.io/gorm"
)

type DisputeStatus string
type ResolutionPhase string
type DisputeReason string

const (
	DisputePendingReview DisputeStatus = "pending_review"
	DisputeInMediation   DisputeStatus = "in_mediation"
	DisputeInArbitration DisputeStatus = "in_arbitration"
	DisputeEscalated     DisputeStatus = "escalated"
	DisputeResolved      DisputeStatus = "resolved"
)

const (
	PhaseAutoReview  ResolutionPhase = "auto_review"
	PhaseMediation   ResolutionPhase = "mediation"
	PhaseArbitration ResolutionPhase = "arbitration"
	PhaseClosed      ResolutionPhase = "closed"
)

const (
	ReasonQuality      DisputeReason = "work_quality"
	ReasonIncomplete   DisputeReason = "incomplete_delivery"
	ReasonLate         DisputeReason = "missed_deadline"
	ReasonScope        DisputeReason = "scope_disagreement"
	ReasonNonPayment   DisputeReason = "payment_withheld"
	ReasonOther        DisputeReason = "other"
)

// AiAnalysis is the structured triage result written by the ai_analysis
// worker. SchemaVersion guards forward compatibility of the embedded columns.
type AiAnalysis struct {
	SchemaVersion int     `gorm:"column:ai_schema_version" json:"schema_version"`
	Confidence    float64 `gorm:"column:ai_confidence" json:"confidence"`
	KeyIssues     string  `gorm:"column:ai_key_issues;type:text" json:"key_issues"`
	Recommended   string  `gorm:"column:ai_recommended;type:text" json:"recommended"`
	Reasoning     string  `gorm:"column:ai_reasoning;type:text" json:"reasoning"`
	AnalyzedAt    *time.Time `gorm:"column:ai_analyzed_at" json:"analyzed_at,omitempty"`
}

// Resolution records the final decision and amount split. The split must sum
// to the disputed milestone's amount; the controller validates this before
// any settlement job is enqueued.
type Resolution struct {
	Decision           string     `gorm:"column:resolution_decision;type:text" json:"decision"`
	AmountToFreelancer int64      `gorm:"column:resolution_to_freelancer" json:"amount_to_freelancer"`
	AmountToClient     int64      `gorm:"column:resolution_to_client" json:"amount_to_client"`
	DecidedBy          *uint      `gorm:"column:resolution_decided_by" json:"decided_by,omitempty"`
	DecidedAt          *time.Time `gorm:"column:resolution_decided_at" json:"decided_at,omitempty"`
}

type Dispute struct {
	ID              uint            `gorm:"primarykey" json:"id"`
	ProjectID       uint            `gorm:"not null;index" json:"project_id"`
	MilestoneID     uint            `gorm:"not null;index" json:"milestone_id"`
	RaisedBy        uint            `gorm:"not null;index" json:"raised_by"`
	Reason          DisputeReason   `gorm:"type:varchar(50);not null" json:"reason"`
	Description     string          `gorm:"type:text;not null" json:"description"`
	Status          DisputeStatus   `gorm:"type:varchar(30);not null;default:'pending_review'" json:"status"`
	ResolutionPhase ResolutionPhase `gorm:"type:varchar(30);not null;default:'auto_review'" json:"resolution_phase"`
	MediatorID      *uint           `gorm:"index" json:"mediator_id,omitempty"`
	ArbitratorID    *uint           `gorm:"index" json:"arbitrator_id,omitempty"`
	DisputeFeePaid  bool            `gorm:"default:false" json:"dispute_fee_paid"`

	AiAnalysis AiAnalysis `gorm:"embedded" json:"ai_analysis"`
	Resolution Resolution `gorm:"embedded" json:"resolution"`

	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	Project   Project          `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Milestone Milestone        `gorm:"foreignKey:MilestoneID" json:"milestone,omitempty"`
	Evidence  []DisputeEvidence `gorm:"foreignKey:DisputeID" json:"evidence,omitempty"`
	Messages  []DisputeMessage  `gorm:"foreignKey:DisputeID" json:"messages,omitempty"`
}

func (Dispute) TableName() string {
	return "disputes"
}

// DisputeEvidence is a reference to an uploaded artifact; storage itself is
// external.
type DisputeEvidence struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	DisputeID   uint      `gorm:"not null;index" json:"dispute_id"`
	SubmittedBy uint      `gorm:"not null" json:"submitted_by"`
	URL         string    `gorm:"type:text;not null" json:"url"`
	Note        string    `gorm:"type:text" json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (DisputeEvidence) TableName() string {
	return "dispute_evidence"
}

// DisputeMessage is one entry of the append-only dispute conversation.
type DisputeMessage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	DisputeID uint      `gorm:"not null;index" json:"dispute_id"`
	AuthorID  uint      `gorm:"not null" json:"author_id"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (DisputeMessage) TableName() string {
	return "dispute_messages"
}
