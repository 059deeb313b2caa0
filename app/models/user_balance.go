package models

import "time"

// UserBalance holds the prepaid PromptCoin balance per credit category.
// Every column is unsigned at the database level; the only writer is the
// ledger service, and every mutation is a single conditional UPDATE so a
// balance can never be driven below zero by concurrent spends.
type UserBalance struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	AnalysisCoins    int64     `gorm:"not null;default:0" json:"analysis_coins"`
	EnhancementCoins int64     `gorm:"not null;default:0" json:"enhancement_coins"`
	ExamCoins        int64     `gorm:"not null;default:0" json:"exam_coins"`
	ExportCoins      int64     `gorm:"not null;default:0" json:"export_coins"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Total returns the combined balance across all four categories.
func (b *UserBalance) Total() int64 {
	return b.AnalysisCoins + b.EnhancementCoins + b.ExamCoins + b.ExportCoins
}
