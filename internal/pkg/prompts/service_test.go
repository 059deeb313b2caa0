package prompts

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
)

// fakeRepo enforces the unique (prompt_id, buyer_id) pair and emulates
// transaction rollback over in-memory state. Transactions are serialized
// the way conflicting row locks serialize them in MySQL.
type fakeRepo struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	records  map[string]*models.PurchaseRecord
	revenue  map[uint]*models.SellerRevenue
	balances map[uint]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:  map[string]*models.PurchaseRecord{},
		revenue:  map[uint]*models.SellerRevenue{},
		balances: map[uint]int64{},
	}
}

func pairKey(promptID, buyerID uint) string {
	return fmt.Sprintf("%d/%d", promptID, buyerID)
}

func (r *fakeRepo) CreateRecordIfAbsent(_ context.Context, record *models.PurchaseRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey(record.PromptID, record.BuyerID)
	if _, ok := r.records[k]; ok {
		return false, nil
	}
	c := *record
	r.records[k] = &c
	return true, nil
}

func (r *fakeRepo) HasRecord(_ context.Context, promptID, buyerID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[pairKey(promptID, buyerID)]
	return ok, nil
}

func (r *fakeRepo) RecordSale(_ context.Context, sellerID uint, priceCoins int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev, ok := r.revenue[sellerID]
	if !ok {
		rev = &models.SellerRevenue{SellerID: sellerID}
		r.revenue[sellerID] = rev
	}
	rev.SalesCount++
	rev.TotalSalesCoins += priceCoins
	return nil
}

func (r *fakeRepo) InTransaction(ctx context.Context, fn func(repo Repository, debit Debiter) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	records := map[string]*models.PurchaseRecord{}
	for k, v := range r.records {
		c := *v
		records[k] = &c
	}
	revenue := map[uint]*models.SellerRevenue{}
	for k, v := range r.revenue {
		c := *v
		revenue[k] = &c
	}
	balances := map[uint]int64{}
	for k, v := range r.balances {
		balances[k] = v
	}
	r.mu.Unlock()

	if err := fn(r, &fakeDebiter{repo: r}); err != nil {
		r.mu.Lock()
		r.records = records
		r.revenue = revenue
		r.balances = balances
		r.mu.Unlock()
		return err
	}
	return nil
}

type fakeDebiter struct {
	repo *fakeRepo
}

func (d *fakeDebiter) Debit(_ context.Context, userID uint, category ledger.Category, cost int64, _ string) (*ledger.Balance, error) {
	d.repo.mu.Lock()
	defer d.repo.mu.Unlock()
	available := d.repo.balances[userID]
	if available < cost {
		return nil, &ledger.InsufficientBalanceError{Category: category, Required: cost, Available: available}
	}
	d.repo.balances[userID] -= cost
	return &ledger.Balance{UserID: userID, Enhancement: d.repo.balances[userID], Total: d.repo.balances[userID]}, nil
}

func TestPurchaseDebitsBuyerAndBooksSeller(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[10] = 500
	svc := NewService(repo)

	res, err := svc.Purchase(context.Background(), 10, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.AmountCoins)
	assert.Equal(t, int64(300), res.Balance.Enhancement)

	owned, err := svc.HasPurchased(context.Background(), 10, 7)
	require.NoError(t, err)
	assert.True(t, owned)

	rev := repo.revenue[3]
	require.NotNil(t, rev)
	assert.Equal(t, int64(1), rev.SalesCount)
	assert.Equal(t, int64(200), rev.TotalSalesCoins)
}

func TestPurchaseIsIdempotentPerPromptAndBuyer(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[10] = 1000
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Purchase(ctx, 10, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, 10, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
	var already *AlreadyPurchasedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, uint(7), already.PromptID)

	// Only the first debit landed.
	assert.Equal(t, int64(800), repo.balances[10])
	assert.Equal(t, int64(1), repo.revenue[3].SalesCount)
}

func TestConcurrentPurchasesSettleExactlyOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[10] = 10_000
	svc := NewService(repo)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Purchase(context.Background(), 10, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			var already *AlreadyPurchasedError
			assert.ErrorAs(t, err, &already)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(10_000-200), repo.balances[10])
	assert.Equal(t, int64(1), repo.revenue[3].SalesCount)
}

func TestPurchaseInsufficientBalanceLeavesNoRecord(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[10] = 100
	svc := NewService(repo)

	_, err := svc.Purchase(context.Background(), 10, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Available)

	owned, err := svc.HasPurchased(context.Background(), 10, 7)
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Nil(t, repo.revenue[3])
}

func TestPurchaseRejectsSelfAndBadInput(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	_, err := svc.Purchase(ctx, 3, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
	assert.ErrorIs(t, err, ErrSelfPurchase)

	_, err = svc.Purchase(ctx, 10, PurchaseRequest{PromptID: 0, SellerID: 3, AmountCoins: 200})
	assert.Error(t, err)
	_, err = svc.Purchase(ctx, 10, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 0})
	assert.Error(t, err)
	_, err = svc.Purchase(ctx, 0, PurchaseRequest{PromptID: 7, SellerID: 3, AmountCoins: 200})
	assert.Error(t, err)
}
