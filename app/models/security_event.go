package models

import "time"

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SecurityEvent is the append-only audit record. Rows are never updated or
// deleted.
type SecurityEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"type:varchar(36);not null;index" json:"correlation_id"`
	UserID        *uint     `gorm:"index" json:"user_id,omitempty"`
	EventType     string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Severity      string    `gorm:"type:varchar(20);not null;index" json:"severity"`
	Message       string    `gorm:"type:text" json:"message"`
	RequestData   string    `gorm:"type:longtext" json:"request_data"`
	ResponseData  string    `gorm:"type:longtext" json:"response_data"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
