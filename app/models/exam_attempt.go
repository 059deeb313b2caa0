package models

import "time"

const (
	FreeExamAttempts = 3
	AttemptsPerBlock = 3
)

// ExamAttempt tracks certification exam eligibility per (user, level).
// Created lazily on first status check. attempts_made only ever grows and
// is advanced by a conditional UPDATE that enforces the allowance boundary
// in the database.
type ExamAttempt struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index:ux_exam_attempts_user_level,unique,priority:1" json:"user_id"`
	Level           string     `gorm:"type:varchar(50);not null;index:ux_exam_attempts_user_level,unique,priority:2" json:"level"`
	AttemptsMade    int        `gorm:"not null;default:0" json:"attempts_made"`
	PurchasedBlocks int        `gorm:"not null;default:0" json:"purchased_blocks"`
	Passed          bool       `gorm:"not null;default:false" json:"passed"`
	CooldownUntil   *time.Time `gorm:"type:timestamp;default:null" json:"cooldown_until,omitempty"`
	LastAttemptAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_attempt_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TotalAllowed is the attempt allowance: free attempts plus purchased blocks.
func (a *ExamAttempt) TotalAllowed() int {
	return FreeExamAttempts + a.PurchasedBlocks*AttemptsPerBlock
}

// CanTakeQuiz reports whether another attempt is allowed.
func (a *ExamAttempt) CanTakeQuiz() bool {
	return !a.Passed && a.AttemptsMade < a.TotalAllowed()
}

// InCooldown reports whether an operator-set cooldown is still active.
func (a *ExamAttempt) InCooldown(now time.Time) bool {
	return a.CooldownUntil != nil && now.Before(*a.CooldownUntil)
}
