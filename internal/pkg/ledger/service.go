package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/coins"
)

// Service is the only component permitted to mutate user balances. Every
// mutation happens inside one storage transaction together with its ledger
// entry; the entry's balance_after records the user's total PC after the
// operation.
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Credit adds the given amounts to all specified categories atomically and
// writes one purchase entry. The entry is keyed by (provider, externalTxID),
// so a redelivered settlement for the same external transaction returns
// ErrAlreadyProcessed and leaves the balance untouched.
func (s *Service) Credit(ctx context.Context, userID uint, amounts coins.Amounts, provider, externalTxID string, usdAmount float64) (*CreditResult, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if amounts.Total() <= 0 || amounts.Analysis < 0 || amounts.Enhancement < 0 || amounts.Exam < 0 || amounts.Export < 0 {
		return nil, errors.New("credit amounts must be non-negative with a positive total")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	externalTxID = strings.TrimSpace(externalTxID)
	if provider == "" || externalTxID == "" {
		return nil, errors.New("provider and external transaction id are required")
	}

	result := &CreditResult{Added: amounts, Reference: uuid.NewString()}
	err := s.repo.InTransaction(ctx, func(repo Repository) error {
		if _, err := repo.GetOrCreateBalance(ctx, userID); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			Reference:             result.Reference,
			UserID:                userID,
			Type:                  models.LedgerTypePurchase,
			Amount:                amounts.Total(),
			Description:           fmt.Sprintf("PromptCoin purchase ($%.2f via %s)", usdAmount, provider),
			PaymentProvider:       &provider,
			ExternalTransactionID: &externalTxID,
		}
		created, err := repo.CreateEntryIfAbsent(ctx, entry)
		if err != nil {
			return err
		}
		if !created {
			result.Duplicate = true
			return ErrAlreadyProcessed
		}

		if err := repo.IncrementBalance(ctx, userID, amounts); err != nil {
			return err
		}
		balance, err := repo.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		return repo.SetEntryBalanceAfter(ctx, entry.ID, balance.Total())
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return result, err
		}
		return nil, err
	}
	return result, nil
}

// Debit subtracts cost from one category. The check and the decrement are a
// single conditional UPDATE; when it affects zero rows the balance was
// insufficient and stays untouched.
func (s *Service) Debit(ctx context.Context, userID uint, category Category, cost int64, description string) (*Balance, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if cost <= 0 {
		return nil, errors.New("debit cost must be positive")
	}
	if _, ok := categoryColumns[category]; !ok {
		return nil, fmt.Errorf("unknown credit category %q", category)
	}

	var out *Balance
	err := s.repo.InTransaction(ctx, func(repo Repository) error {
		if _, err := repo.GetOrCreateBalance(ctx, userID); err != nil {
			return err
		}

		ok, err := repo.DecrementBalanceIfSufficient(ctx, userID, category, cost)
		if err != nil {
			return err
		}
		balance, err := repo.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return &InsufficientBalanceError{
				Category:  category,
				Required:  cost,
				Available: categoryValue(balance, category),
			}
		}

		entry := &models.LedgerEntry{
			Reference:    uuid.NewString(),
			UserID:       userID,
			Type:         models.LedgerTypeUsage,
			Amount:       -cost,
			BalanceAfter: balance.Total(),
			Description:  description,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return err
		}
		out = toBalance(balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Refund adds amount back to one category and writes a refund entry. When an
// external transaction id is given the refund is idempotent the same way a
// credit is.
func (s *Service) Refund(ctx context.Context, userID uint, category Category, amount int64, reason, provider, externalTxID string) (*Balance, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if amount <= 0 {
		return nil, errors.New("refund amount must be positive")
	}
	if _, ok := categoryColumns[category]; !ok {
		return nil, fmt.Errorf("unknown credit category %q", category)
	}

	amounts := coins.Amounts{}
	switch category {
	case CategoryAnalysis:
		amounts.Analysis = amount
	case CategoryEnhancement:
		amounts.Enhancement = amount
	case CategoryExam:
		amounts.Exam = amount
	case CategoryExport:
		amounts.Export = amount
	}

	var out *Balance
	err := s.repo.InTransaction(ctx, func(repo Repository) error {
		if _, err := repo.GetOrCreateBalance(ctx, userID); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			Reference:   uuid.NewString(),
			UserID:      userID,
			Type:        models.LedgerTypeRefund,
			Amount:      amount,
			Description: reason,
		}
		if provider != "" && externalTxID != "" {
			p := strings.ToLower(strings.TrimSpace(provider))
			tid := strings.TrimSpace(externalTxID)
			entry.PaymentProvider = &p
			entry.ExternalTransactionID = &tid
			created, err := repo.CreateEntryIfAbsent(ctx, entry)
			if err != nil {
				return err
			}
			if !created {
				return ErrAlreadyProcessed
			}
		} else if err := repo.CreateEntry(ctx, entry); err != nil {
			return err
		}

		if err := repo.IncrementBalance(ctx, userID, amounts); err != nil {
			return err
		}
		balance, err := repo.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if err := repo.SetEntryBalanceAfter(ctx, entry.ID, balance.Total()); err != nil {
			return err
		}
		out = toBalance(balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance returns all four categories plus the combined total, creating
// the zeroed balance row on first contact.
func (s *Service) GetBalance(ctx context.Context, userID uint) (*Balance, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	balance, err := s.repo.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toBalance(balance), nil
}

func toBalance(b *models.UserBalance) *Balance {
	return &Balance{
		UserID:      b.UserID,
		Analysis:    b.AnalysisCoins,
		Enhancement: b.EnhancementCoins,
		Exam:        b.ExamCoins,
		Export:      b.ExportCoins,
		Total:       b.Total(),
	}
}

func categoryValue(b *models.UserBalance, category Category) int64 {
	switch category {
	case CategoryAnalysis:
		return b.AnalysisCoins
	case CategoryEnhancement:
		return b.EnhancementCoins
	case CategoryExam:
		return b.ExamCoins
	case CategoryExport:
		return b.ExportCoins
	default:
		return 0
	}
}
