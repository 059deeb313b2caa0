// Package coins implements PromptCoin (PC) money math. PC is a non-negative
// integer unit at a fixed rate of 100 PC = 1 USD; PC values never carry
// fractions, so all arithmetic here is integer arithmetic.
package coins

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoinsPerUSD is the fixed conversion rate.
const CoinsPerUSD = 100

var ErrInvalidAmount = errors.New("amount must be a finite, non-negative USD value")

// Amounts is a per-category PromptCoin amount.
type Amounts struct {
	Analysis    int64 `json:"analysis"`
	Enhancement int64 `json:"enhancement"`
	Exam        int64 `json:"exam"`
	Export      int64 `json:"export"`
}

// Total returns the sum over all categories.
func (a Amounts) Total() int64 {
	return a.Analysis + a.Enhancement + a.Exam + a.Export
}

// UsdToCoins converts a USD amount into PromptCoins, rounding half-up on the
// third decimal. The float is first rendered to its shortest decimal form so
// that the rounding decision is made on the decimal value the caller sent,
// not on binary representation error (1.005 -> 101, not 100).
func UsdToCoins(usd float64) (int64, error) {
	if usd < 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		return 0, ErrInvalidAmount
	}
	return decimalToCents(strconv.FormatFloat(usd, 'f', -1, 64))
}

// CoinsToUsd renders a PC amount as a USD string with two decimals.
func CoinsToUsd(pc int64) string {
	return fmt.Sprintf("%d.%02d", pc/CoinsPerUSD, pc%CoinsPerUSD)
}

// decimalToCents parses a non-negative decimal string into cents with
// half-up rounding on the third fractional digit.
func decimalToCents(s string) (int64, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, ErrInvalidAmount
	}

	cents := w * CoinsPerUSD
	digits := [2]int64{0, 0}
	for i := 0; i < 2 && i < len(frac); i++ {
		c := frac[i]
		if c < '0' || c > '9' {
			return 0, ErrInvalidAmount
		}
		digits[i] = int64(c - '0')
	}
	cents += digits[0]*10 + digits[1]
	if len(frac) > 2 && frac[2] >= '5' && frac[2] <= '9' {
		cents++
	}
	return cents, nil
}

// Package split applied to coin purchases: 40% analysis, 30% enhancement,
// 20% exam, 10% export; integer remainder goes to analysis.
const (
	splitAnalysisPct    = 40
	splitEnhancementPct = 30
	splitExamPct        = 20
	splitExportPct      = 10
)

// SplitPackage distributes a purchased coin total over the four categories
// using the fixed package ratio.
func SplitPackage(total int64) Amounts {
	if total <= 0 {
		return Amounts{}
	}
	a := Amounts{
		Analysis:    total * splitAnalysisPct / 100,
		Enhancement: total * splitEnhancementPct / 100,
		Exam:        total * splitExamPct / 100,
		Export:      total * splitExportPct / 100,
	}
	a.Analysis += total - a.Total()
	return a
}
