package attemptgate

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
)

// Debiter is the slice of the coin ledger a block purchase needs.
// *ledger.Service satisfies it.
type Debiter interface {
	Debit(ctx context.Context, userID uint, category ledger.Category, cost int64, description string) (*ledger.Balance, error)
}

// Repository persists exam attempt tracking rows.
type Repository interface {
	GetOrCreate(ctx context.Context, userID uint, level string) (*models.ExamAttempt, error)
	Get(ctx context.Context, userID uint, level string) (*models.ExamAttempt, error)

	// IncrementAttempt advances attempts_made by one iff the level is not
	// passed and the allowance is not spent. Reports whether a row changed.
	IncrementAttempt(ctx context.Context, userID uint, level string, passed bool, at time.Time) (bool, error)

	// IncrementPurchasedBlocks grants one block iff the level is not passed.
	IncrementPurchasedBlocks(ctx context.Context, userID uint, level string) (bool, error)

	SetCooldown(ctx context.Context, userID uint, level string, until *time.Time) error

	// InTransaction runs fn with a transaction-scoped repository and a coin
	// debiter bound to the same transaction; an error from fn rolls back
	// every write made through either.
	InTransaction(ctx context.Context, fn func(repo Repository, debit Debiter) error) error
}

// NewGateFromDB wires a gate over a GORM handle.
func NewGateFromDB(db *gorm.DB, blockCostPC int64) *Gate {
	return NewGate(NewRepository(db), blockCostPC)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates the GORM-backed repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreate(ctx context.Context, userID uint, level string) (*models.ExamAttempt, error) {
	row := &models.ExamAttempt{UserID: userID, Level: level}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "level"},
		},
		DoNothing: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID, level)
}

func (r *gormRepository) Get(ctx context.Context, userID uint, level string) (*models.ExamAttempt, error) {
	var row models.ExamAttempt
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND level = ?", userID, level).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) IncrementAttempt(ctx context.Context, userID uint, level string, passed bool, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"attempts_made":   gorm.Expr("attempts_made + 1"),
		"last_attempt_at": at,
	}
	if passed {
		updates["passed"] = true
	}

	tx := r.db.WithContext(ctx).Model(&models.ExamAttempt{}).
		Where("user_id = ? AND level = ? AND passed = ? AND attempts_made < ? + purchased_blocks * ?",
			userID, level, false, models.FreeExamAttempts, models.AttemptsPerBlock).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) IncrementPurchasedBlocks(ctx context.Context, userID uint, level string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.ExamAttempt{}).
		Where("user_id = ? AND level = ? AND passed = ?", userID, level, false).
		UpdateColumn("purchased_blocks", gorm.Expr("purchased_blocks + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetCooldown(ctx context.Context, userID uint, level string, until *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ExamAttempt{}).
		Where("user_id = ? AND level = ?", userID, level).
		Update("cooldown_until", until).Error
}

func (r *gormRepository) InTransaction(ctx context.Context, fn func(repo Repository, debit Debiter) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx}, ledger.NewServiceFromDB(tx))
	})
}
