package models

import "time"

// AuditTrail is append-only. Rows are written inside the same database
// transaction as the state change they describe and are never updated or
// deleted.
type AuditTrail struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Action     string    `gorm:"type:varchar(100);not null;index" json:"action"`
	ActorID    *uint     `gorm:"index" json:"actor_id,omitempty"` // nil means system
	EntityType string    `gorm:"type:varchar(50);not null;index" json:"entity_type"`
	EntityID   uint      `gorm:"not null;index" json:"entity_id"`
	OldValues  string    `gorm:"type:text" json:"old_values,omitempty"`
	NewValues  string    `gorm:"type:text" json:"new_values,omitempty"`
	TraceID    string    `gorm:"type:varchar(36);index" json:"trace_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AuditTrail) TableName() string {
	return "audit_trail"
}
