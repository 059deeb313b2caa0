package ledger

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/coins"
)

// Repository provides the storage operations used by the ledger service.
// Every balance mutation is a single conditional statement evaluated by the
// database itself; post-update values are never computed in application
// code from a previously read value.
type Repository interface {
	GetOrCreateBalance(ctx context.Context, userID uint) (*models.UserBalance, error)
	GetBalance(ctx context.Context, userID uint) (*models.UserBalance, error)

	// IncrementBalance adds the given amounts to all specified categories in
	// one atomic UPDATE.
	IncrementBalance(ctx context.Context, userID uint, amounts coins.Amounts) error

	// DecrementBalanceIfSufficient subtracts cost from the category only if
	// the current value covers it; reports whether a row was updated.
	DecrementBalanceIfSufficient(ctx context.Context, userID uint, category Category, cost int64) (bool, error)

	// CreateEntryIfAbsent inserts a ledger entry unless one with the same
	// (payment_provider, external_transaction_id) exists; reports whether
	// the insert won.
	CreateEntryIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	SetEntryBalanceAfter(ctx context.Context, entryID uint, balanceAfter int64) error

	// InTransaction runs fn against a repository bound to one DB transaction.
	InTransaction(ctx context.Context, fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateBalance(ctx context.Context, userID uint) (*models.UserBalance, error) {
	balance := &models.UserBalance{UserID: userID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(balance).Error; err != nil {
		return nil, err
	}
	return r.GetBalance(ctx, userID)
}

func (r *gormRepository) GetBalance(ctx context.Context, userID uint) (*models.UserBalance, error) {
	var balance models.UserBalance
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *gormRepository) IncrementBalance(ctx context.Context, userID uint, amounts coins.Amounts) error {
	updates := map[string]interface{}{}
	if amounts.Analysis != 0 {
		updates["analysis_coins"] = gorm.Expr("analysis_coins + ?", amounts.Analysis)
	}
	if amounts.Enhancement != 0 {
		updates["enhancement_coins"] = gorm.Expr("enhancement_coins + ?", amounts.Enhancement)
	}
	if amounts.Exam != 0 {
		updates["exam_coins"] = gorm.Expr("exam_coins + ?", amounts.Exam)
	}
	if amounts.Export != 0 {
		updates["export_coins"] = gorm.Expr("export_coins + ?", amounts.Export)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.UserBalance{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
}

func (r *gormRepository) DecrementBalanceIfSufficient(ctx context.Context, userID uint, category Category, cost int64) (bool, error) {
	column, ok := categoryColumns[category]
	if !ok {
		return false, &InsufficientBalanceError{Category: category, Required: cost}
	}

	tx := r.db.WithContext(ctx).Model(&models.UserBalance{}).
		Where("user_id = ? AND "+column+" >= ?", userID, cost).
		UpdateColumn(column, gorm.Expr(column+" - ?", cost))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateEntryIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payment_provider"},
			{Name: "external_transaction_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) SetEntryBalanceAfter(ctx context.Context, entryID uint, balanceAfter int64) error {
	return r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("id = ?", entryID).
		UpdateColumn("balance_after", balanceAfter).Error
}

func (r *gormRepository) InTransaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
