package prompts

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
)

// Debiter is the slice of the coin ledger a purchase needs. *ledger.Service
// satisfies it.
type Debiter interface {
	Debit(ctx context.Context, userID uint, category ledger.Category, cost int64, description string) (*ledger.Balance, error)
}

// Repository persists purchase records and seller revenue aggregates.
type Repository interface {
	// CreateRecordIfAbsent inserts the record unless the (prompt, buyer)
	// pair exists. The insert attempt is the claim; reports whether it won.
	CreateRecordIfAbsent(ctx context.Context, record *models.PurchaseRecord) (bool, error)

	HasRecord(ctx context.Context, promptID, buyerID uint) (bool, error)

	// RecordSale upserts the seller's aggregate, incrementing in place.
	RecordSale(ctx context.Context, sellerID uint, priceCoins int64) error

	// InTransaction runs fn with a transaction-scoped repository and a coin
	// debiter bound to the same transaction.
	InTransaction(ctx context.Context, fn func(repo Repository, debit Debiter) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates the GORM-backed repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// NewServiceFromDB wires a purchase service over a GORM handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

func (r *gormRepository) CreateRecordIfAbsent(ctx context.Context, record *models.PurchaseRecord) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "prompt_id"},
			{Name: "buyer_id"},
		},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) HasRecord(ctx context.Context, promptID, buyerID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PurchaseRecord{}).
		Where("prompt_id = ? AND buyer_id = ?", promptID, buyerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) RecordSale(ctx context.Context, sellerID uint, priceCoins int64) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "seller_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"sales_count":       gorm.Expr("sales_count + 1"),
			"total_sales_coins": gorm.Expr("total_sales_coins + ?", priceCoins),
		}),
	}).Create(&models.SellerRevenue{
		SellerID:        sellerID,
		SalesCount:      1,
		TotalSalesCoins: priceCoins,
	}).Error
}

func (r *gormRepository) InTransaction(ctx context.Context, fn func(repo Repository, debit Debiter) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx}, ledger.NewServiceFromDB(tx))
	})
}
