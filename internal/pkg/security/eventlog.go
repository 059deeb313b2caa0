// Package security provides the append-only audit event sink used across
// the settlement core.
package security

import (
	"context"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/promptmint/promptmint/app/models"
)

// Event describes one audit record before persistence.
type Event struct {
	UserID       *uint
	EventType    string
	Severity     string
	Message      string
	RequestData  string
	ResponseData string
}

// EventLog appends SecurityEvent rows. Writes never abort the caller's
// primary operation; a failed insert is surfaced on the process log instead
// so it is not silently lost.
type EventLog struct {
	db       *gorm.DB
	fallback func(format string, args ...any)
}

// NewEventLog creates an event log writing to the given DB handle.
func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db, fallback: log.Printf}
}

// NewEventLogWithFallback allows tests to capture the secondary channel.
func NewEventLogWithFallback(db *gorm.DB, fallback func(format string, args ...any)) *EventLog {
	return &EventLog{db: db, fallback: fallback}
}

// Record appends one event. The returned correlation id identifies the
// record in responses and process logs.
func (l *EventLog) Record(ctx context.Context, evt Event) string {
	correlationID := uuid.NewString()
	if evt.Severity == "" {
		evt.Severity = models.SeverityLow
	}

	row := &models.SecurityEvent{
		CorrelationID: correlationID,
		UserID:        evt.UserID,
		EventType:     evt.EventType,
		Severity:      evt.Severity,
		Message:       evt.Message,
		RequestData:   evt.RequestData,
		ResponseData:  evt.ResponseData,
	}

	if l.db == nil {
		l.fallback("security event log unavailable: type=%s severity=%s correlation=%s msg=%s",
			evt.EventType, evt.Severity, correlationID, evt.Message)
		return correlationID
	}

	if err := l.db.WithContext(ctx).Create(row).Error; err != nil {
		l.fallback("security event write failed (%v): type=%s severity=%s correlation=%s msg=%s",
			err, evt.EventType, evt.Severity, correlationID, evt.Message)
	}
	return correlationID
}
