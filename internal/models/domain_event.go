package models

import "time"

// DomainEvent is the outbox row. State-changing operations append one in the
// same transaction as their ledger writes; the dispatcher tails unpublished
// rows in id order and delivers them, so notification delivery never gates
// ledger correctness.
type DomainEvent struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	EventType   string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	TraceID     string     `gorm:"type:varchar(36);index" json:"trace_id"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (DomainEvent) TableName() string {
	return "domain_events"
}
