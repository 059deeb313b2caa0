// Package fraudguard rate-limits and risk-scores spend requests before they
// reach the ledger. Its counters are a best-effort defense-in-depth layer;
// the ledger's conditional updates remain the correctness boundary.
package fraudguard

import (
	"context"
	"fmt"
	"time"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/coins"
	"github.com/promptmint/promptmint/internal/pkg/security"
)

// Defaults for the heuristic checks.
const (
	// DefaultMaxSingleUsd blocks any single transaction above this USD
	// equivalent pending manual review.
	DefaultMaxSingleUsd = 50
	// DefaultVelocityMax / DefaultVelocityWindow bound transaction count
	// per user in a rolling window.
	DefaultVelocityMax    = 10
	DefaultVelocityWindow = 10 * time.Minute
)

// RateLimitError is returned when a (user, action) counter exceeds its
// window limit.
type RateLimitError struct {
	Action string
	Max    int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for action %q (max %d per window)", e.Action, e.Max)
}

// FraudError blocks a transaction pending manual review.
type FraudError struct {
	Reason string
}

func (e *FraudError) Error() string {
	return "transaction blocked pending review: " + e.Reason
}

// Guard runs both checks strictly before any ledger mutation.
type Guard struct {
	counter        Counter
	audit          *security.EventLog
	maxSingleCoins int64
	velocityMax    int64
	velocityWindow time.Duration
}

// NewGuard creates a guard with default thresholds.
func NewGuard(counter Counter, audit *security.EventLog) *Guard {
	return &Guard{
		counter:        counter,
		audit:          audit,
		maxSingleCoins: DefaultMaxSingleUsd * coins.CoinsPerUSD,
		velocityMax:    DefaultVelocityMax,
		velocityWindow: DefaultVelocityWindow,
	}
}

// RateLimit counts one request for (user, action) and fails it once the
// window limit is exceeded. Counter store failures are logged and let the
// request through: throttling is advisory, the ledger is not.
func (g *Guard) RateLimit(ctx context.Context, userID uint, action string, maxPerWindow int64, window time.Duration) error {
	key := fmt.Sprintf("ratelimit:%d:%s", userID, action)
	count, err := g.counter.Increment(ctx, key, window)
	if err != nil {
		g.audit.Record(ctx, security.Event{
			UserID:    &userID,
			EventType: "rate_limit_store_unavailable",
			Severity:  models.SeverityHigh,
			Message:   fmt.Sprintf("counter increment failed for %s: %v", action, err),
		})
		return nil
	}
	if count > maxPerWindow {
		g.audit.Record(ctx, security.Event{
			UserID:    &userID,
			EventType: "rate_limit_exceeded",
			Severity:  models.SeverityHigh,
			Message:   fmt.Sprintf("action %s hit %d/%d in window", action, count, maxPerWindow),
		})
		return &RateLimitError{Action: action, Max: maxPerWindow}
	}
	return nil
}

// Score evaluates a transaction's risk and blocks it (fails closed) when a
// flag is raised. Every evaluation is audited regardless of outcome.
func (g *Guard) Score(ctx context.Context, userID uint, coinAmount int64) error {
	flagged := ""
	if coinAmount > g.maxSingleCoins {
		flagged = fmt.Sprintf("single transaction of %d PC exceeds %d PC threshold", coinAmount, g.maxSingleCoins)
	}

	if flagged == "" {
		key := fmt.Sprintf("fraud:velocity:%d", userID)
		count, err := g.counter.Increment(ctx, key, g.velocityWindow)
		switch {
		case err != nil:
			// Amount screening above still applies; only the velocity
			// signal is lost.
			g.audit.Record(ctx, security.Event{
				UserID:    &userID,
				EventType: "fraud_velocity_store_unavailable",
				Severity:  models.SeverityHigh,
				Message:   err.Error(),
			})
		case count > g.velocityMax:
			flagged = fmt.Sprintf("%d transactions within %s exceeds velocity limit %d", count, g.velocityWindow, g.velocityMax)
		}
	}

	severity := models.SeverityLow
	eventType := "fraud_score_passed"
	if flagged != "" {
		severity = models.SeverityHigh
		eventType = "fraud_score_flagged"
	}
	g.audit.Record(ctx, security.Event{
		UserID:    &userID,
		EventType: eventType,
		Severity:  severity,
		Message:   fmt.Sprintf("amount=%d PC; %s", coinAmount, orDefault(flagged, "no flags")),
	})

	if flagged != "" {
		return &FraudError{Reason: flagged}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
