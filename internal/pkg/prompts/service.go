// Package prompts settles smart prompt purchases paid in PromptCoins. The
// unique (prompt_id, buyer_id) purchase record is the idempotency token: of
// two racing purchases for the same pair exactly one debit happens.
package prompts

import (
	"context"
	"errors"
	"fmt"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
)

// ErrSelfPurchase rejects buying one's own prompt.
var ErrSelfPurchase = errors.New("cannot purchase your own prompt")

// AlreadyPurchasedError is the expected outcome of a repeated purchase.
type AlreadyPurchasedError struct {
	PromptID uint
	BuyerID  uint
}

func (e *AlreadyPurchasedError) Error() string {
	return fmt.Sprintf("prompt %d already purchased by user %d", e.PromptID, e.BuyerID)
}

// PurchaseRequest describes one settlement. The prompt catalog lives in the
// calling platform, which supplies the seller alongside the price.
type PurchaseRequest struct {
	PromptID    uint  `json:"prompt_id" validate:"required"`
	SellerID    uint  `json:"seller_id" validate:"required"`
	AmountCoins int64 `json:"amount_coins" validate:"required,gt=0"`
}

// PurchaseResult reports a settled prompt purchase.
type PurchaseResult struct {
	PromptID    uint            `json:"prompt_id"`
	AmountCoins int64           `json:"amount_coins"`
	Balance     *ledger.Balance `json:"balance"`
}

// Service settles prompt purchases against the coin ledger.
type Service struct {
	repo Repository
}

// NewService creates a service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Purchase debits the buyer's enhancement category, inserts the purchase
// record and books the seller's revenue, all in one transaction. A conflict
// on the record rolls everything back and reports AlreadyPurchasedError.
func (s *Service) Purchase(ctx context.Context, buyerID uint, req PurchaseRequest) (*PurchaseResult, error) {
	if buyerID == 0 {
		return nil, errors.New("buyer id is required")
	}
	if req.PromptID == 0 || req.SellerID == 0 {
		return nil, errors.New("prompt_id and seller_id are required")
	}
	if req.AmountCoins <= 0 {
		return nil, errors.New("amount_coins must be positive")
	}
	if req.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}

	out := &PurchaseResult{PromptID: req.PromptID, AmountCoins: req.AmountCoins}
	err := s.repo.InTransaction(ctx, func(repo Repository, debit Debiter) error {
		record := &models.PurchaseRecord{
			PromptID:           req.PromptID,
			BuyerID:            buyerID,
			SellerID:           req.SellerID,
			PurchasePriceCoins: req.AmountCoins,
		}
		created, err := repo.CreateRecordIfAbsent(ctx, record)
		if err != nil {
			return err
		}
		if !created {
			return &AlreadyPurchasedError{PromptID: req.PromptID, BuyerID: buyerID}
		}

		balance, err := debit.Debit(ctx, buyerID, ledger.CategoryEnhancement, req.AmountCoins,
			fmt.Sprintf("smart prompt purchase (prompt %d)", req.PromptID))
		if err != nil {
			return err
		}
		out.Balance = balance

		return repo.RecordSale(ctx, req.SellerID, req.AmountCoins)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasPurchased reports whether the buyer already owns the prompt.
func (s *Service) HasPurchased(ctx context.Context, buyerID, promptID uint) (bool, error) {
	if buyerID == 0 || promptID == 0 {
		return false, errors.New("buyer id and prompt id are required")
	}
	return s.repo.HasRecord(ctx, promptID, buyerID)
}
