package ledger

import (
	"errors"
	"fmt"

	"github.com/promptmint/promptmint/internal/pkg/coins"
)

// Category is one of the four independently tracked credit categories.
type Category string

const (
	CategoryAnalysis    Category = "analysis"
	CategoryEnhancement Category = "enhancement"
	CategoryExam        Category = "exam"
	CategoryExport      Category = "export"
)

// balance column per category; doubles as the category whitelist so no
// request-supplied string ever reaches SQL.
var categoryColumns = map[Category]string{
	CategoryAnalysis:    "analysis_coins",
	CategoryEnhancement: "enhancement_coins",
	CategoryExam:        "exam_coins",
	CategoryExport:      "export_coins",
}

// ParseCategory validates a request-supplied category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := categoryColumns[c]; !ok {
		return "", fmt.Errorf("unknown credit category %q", s)
	}
	return c, nil
}

var (
	// ErrAlreadyProcessed signals that a credit or refund for the same
	// external transaction was recorded before. Callers treat it as a
	// successful no-op.
	ErrAlreadyProcessed = errors.New("external transaction already processed")
)

// InsufficientBalanceError is the expected, non-exceptional outcome of a
// debit against a balance smaller than the cost.
type InsufficientBalanceError struct {
	Category  Category
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required=%d available=%d", e.Category, e.Required, e.Available)
}

// Shortage is the amount missing to cover the debit.
func (e *InsufficientBalanceError) Shortage() int64 {
	return e.Required - e.Available
}

// Balance is the read model returned by GetBalance.
type Balance struct {
	UserID      uint  `json:"user_id"`
	Analysis    int64 `json:"analysis"`
	Enhancement int64 `json:"enhancement"`
	Exam        int64 `json:"exam"`
	Export      int64 `json:"export"`
	Total       int64 `json:"total"`
}

// CreditResult reports the outcome of a credit operation.
type CreditResult struct {
	Added     coins.Amounts
	Duplicate bool
	Reference string
}
