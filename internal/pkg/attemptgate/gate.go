// Package attemptgate enforces certification exam eligibility. Every user
// gets a fixed free allowance per level; further attempts come in purchasable
// blocks paid from the exam credit category. The allowance boundary lives in
// a conditional UPDATE, never in application-side arithmetic.
package attemptgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/env"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
)

// DefaultBlockCostPC is the exam-category price of one attempt block.
const DefaultBlockCostPC int64 = 1000

// ErrAlreadyPassed rejects attempts and block purchases for a level the user
// has already passed.
var ErrAlreadyPassed = errors.New("exam level already passed")

// CooldownError rejects an attempt while an operator-set cooldown is active.
type CooldownError struct {
	Until time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("exam attempts locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// NoAttemptsError is the expected outcome of an attempt beyond the allowance.
type NoAttemptsError struct {
	AttemptsMade int
	TotalAllowed int
}

func (e *NoAttemptsError) Error() string {
	return fmt.Sprintf("no exam attempts left: used=%d allowed=%d", e.AttemptsMade, e.TotalAllowed)
}

// Status is the eligibility view for one (user, level).
type Status struct {
	Level           string     `json:"level"`
	AttemptsMade    int        `json:"attempts_made"`
	TotalAllowed    int        `json:"total_allowed"`
	Remaining       int        `json:"remaining"`
	PurchasedBlocks int        `json:"purchased_blocks"`
	Passed          bool       `json:"passed"`
	CanTakeQuiz     bool       `json:"can_take_quiz"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
}

// AttemptResult reports a consumed attempt.
type AttemptResult struct {
	Status    *Status `json:"status"`
	Certified bool    `json:"certified"`
}

// PurchaseResult reports a settled block purchase.
type PurchaseResult struct {
	Status        *Status         `json:"status"`
	CostPC        int64           `json:"cost_pc"`
	AttemptsAdded int             `json:"attempts_added"`
	Balance       *ledger.Balance `json:"balance"`
}

// Gate is the only component that advances attempt counters or sells blocks.
type Gate struct {
	repo      Repository
	blockCost int64
	now       func() time.Time
}

// NewGate creates a gate with an explicit block price.
func NewGate(repo Repository, blockCostPC int64) *Gate {
	if blockCostPC <= 0 {
		blockCostPC = DefaultBlockCostPC
	}
	return &Gate{repo: repo, blockCost: blockCostPC, now: time.Now}
}

// BlockCostFromEnv reads EXAM_BLOCK_COST, falling back to the default price.
func BlockCostFromEnv() int64 {
	raw := strings.TrimSpace(env.GetEnv("EXAM_BLOCK_COST", ""))
	if raw == "" {
		return DefaultBlockCostPC
	}
	cost, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cost <= 0 {
		return DefaultBlockCostPC
	}
	return cost
}

func normalizeLevel(level string) (string, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return "", errors.New("exam level is required")
	}
	if len(level) > 50 {
		return "", errors.New("exam level is too long")
	}
	return level, nil
}

// Status returns the eligibility view, creating the zeroed tracking row on
// first contact.
func (g *Gate) Status(ctx context.Context, userID uint, level string) (*Status, error) {
	level, err := normalizeLevel(level)
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	row, err := g.repo.GetOrCreate(ctx, userID, level)
	if err != nil {
		return nil, err
	}
	return toStatus(row), nil
}

// RecordAttempt consumes one attempt and stores the outcome. The increment is
// a conditional UPDATE guarded by the allowance and the passed flag, so two
// racing submissions can never both consume the final attempt.
func (g *Gate) RecordAttempt(ctx context.Context, userID uint, level string, passed bool) (*AttemptResult, error) {
	level, err := normalizeLevel(level)
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	row, err := g.repo.GetOrCreate(ctx, userID, level)
	if err != nil {
		return nil, err
	}
	if row.InCooldown(g.now()) {
		return nil, &CooldownError{Until: *row.CooldownUntil}
	}

	consumed, err := g.repo.IncrementAttempt(ctx, userID, level, passed, g.now())
	if err != nil {
		return nil, err
	}
	if !consumed {
		// Zero rows means the guard held: either the level is already
		// passed or the allowance is spent.
		row, err = g.repo.Get(ctx, userID, level)
		if err != nil {
			return nil, err
		}
		if row.Passed {
			return nil, ErrAlreadyPassed
		}
		return nil, &NoAttemptsError{AttemptsMade: row.AttemptsMade, TotalAllowed: row.TotalAllowed()}
	}

	row, err = g.repo.Get(ctx, userID, level)
	if err != nil {
		return nil, err
	}
	return &AttemptResult{Status: toStatus(row), Certified: row.Passed}, nil
}

// PurchaseBlock debits the exam category and grants one attempt block inside
// a single transaction. A failure on either side rolls back both: no coins
// are taken without attempts, and no attempts are granted without coins.
func (g *Gate) PurchaseBlock(ctx context.Context, userID uint, level string) (*PurchaseResult, error) {
	level, err := normalizeLevel(level)
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	if _, err := g.repo.GetOrCreate(ctx, userID, level); err != nil {
		return nil, err
	}

	out := &PurchaseResult{CostPC: g.blockCost, AttemptsAdded: models.AttemptsPerBlock}
	err = g.repo.InTransaction(ctx, func(repo Repository, debit Debiter) error {
		granted, err := repo.IncrementPurchasedBlocks(ctx, userID, level)
		if err != nil {
			return err
		}
		if !granted {
			return ErrAlreadyPassed
		}

		balance, err := debit.Debit(ctx, userID, ledger.CategoryExam, g.blockCost,
			fmt.Sprintf("exam attempt block (%s, +%d attempts)", level, models.AttemptsPerBlock))
		if err != nil {
			return err
		}
		out.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	row, err := g.repo.Get(ctx, userID, level)
	if err != nil {
		return nil, err
	}
	out.Status = toStatus(row)
	return out, nil
}

// SetCooldown stores or clears an operator-set attempt lock.
func (g *Gate) SetCooldown(ctx context.Context, userID uint, level string, until *time.Time) error {
	level, err := normalizeLevel(level)
	if err != nil {
		return err
	}
	if _, err := g.repo.GetOrCreate(ctx, userID, level); err != nil {
		return err
	}
	return g.repo.SetCooldown(ctx, userID, level, until)
}

func toStatus(row *models.ExamAttempt) *Status {
	remaining := row.TotalAllowed() - row.AttemptsMade
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		Level:           row.Level,
		AttemptsMade:    row.AttemptsMade,
		TotalAllowed:    row.TotalAllowed(),
		Remaining:       remaining,
		PurchasedBlocks: row.PurchasedBlocks,
		Passed:          row.Passed,
		CanTakeQuiz:     row.CanTakeQuiz(),
		CooldownUntil:   row.CooldownUntil,
	}
}
