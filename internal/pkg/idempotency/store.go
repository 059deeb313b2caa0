// Package idempotency implements exactly-once claiming of externally
// delivered webhook events. The insert attempt itself is the atomic claim:
// the unique (provider, event_id) index decides "first processor wins", and
// a conflict is the duplicate signal. Checking for existence before
// inserting is not offered; it races under concurrent delivery.
package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/promptmint/promptmint/app/models"
)

var ErrNotClaimed = errors.New("webhook event was never claimed")

// Store persists webhook event claims and their terminal outcome.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store backed by GORM.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Claim attempts to insert a processing row for the event. claimed=false
// means another concurrent or prior delivery already owns the event; the
// stored row is returned in both cases.
func (s *Store) Claim(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, *models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		Provider:    provider,
		EventID:     eventID,
		EventType:   eventType,
		Status:      models.WebhookStatusProcessing,
		PayloadJSON: string(payload),
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	claimed := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return claimed, &stored, nil
}

// Complete transitions the claimed row to a terminal status exactly once.
// Only a row still in processing is updated; a second Complete for the same
// event affects zero rows and reports ErrNotClaimed.
func (s *Store) Complete(ctx context.Context, id uint, status string, processingErr error) error {
	if status != models.WebhookStatusSuccess && status != models.WebhookStatusFailed {
		return errors.New("terminal status must be success or failed")
	}

	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	now := time.Now()

	tx := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", id, models.WebhookStatusProcessing).
		Updates(map[string]interface{}{
			"status":       status,
			"last_error":   errMsg,
			"processed_at": &now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// Reopen puts a failed event back into processing so a provider redelivery
// can re-run the handler. Success rows are never reopened.
func (s *Store) Reopen(ctx context.Context, id uint) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", id, models.WebhookStatusFailed).
		Updates(map[string]interface{}{
			"status":     models.WebhookStatusProcessing,
			"last_error": "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
