package models

import "time"

const (
	WebhookStatusProcessing = "processing"
	WebhookStatusSuccess    = "success"
	WebhookStatusFailed     = "failed"
)

// WebhookEvent stores provider webhook deliveries with deduplication
// metadata. The unique (provider, event_id) index is the concurrency
// control: inserting the row IS the claim, and a constraint violation is
// the duplicate signal. There is never a check-then-insert window.
type WebhookEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Provider    string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	EventID     string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	EventType   string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Status      string     `gorm:"type:varchar(20);not null;default:'processing';index" json:"status"`
	PayloadJSON string     `gorm:"type:longtext;not null" json:"payload_json"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
