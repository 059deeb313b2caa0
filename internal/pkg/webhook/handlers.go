package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/coins"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
	"github.com/promptmint/promptmint/internal/pkg/security"
)

// Handlers implements the settlement side effects behind the gateway's
// dispatch table. Every handler tolerates redelivery: credits and refunds
// are keyed by the provider transaction id, everything else only logs.
type Handlers struct {
	ledger *ledger.Service
	audit  *security.EventLog
}

// NewHandlers wires the settlement handlers.
func NewHandlers(ledgerSvc *ledger.Service, audit *security.EventLog) *Handlers {
	return &Handlers{ledger: ledgerSvc, audit: audit}
}

// RegisterAll attaches every handler to the gateway.
func (h *Handlers) RegisterAll(g *Gateway) {
	g.RegisterHandler(EventPaymentSucceeded, h.PaymentSucceeded)
	g.RegisterHandler(EventPaymentFailed, h.PaymentFailed)
	g.RegisterHandler(EventRefund, h.Refund)
	g.RegisterHandler(EventDisputeCreated, h.DisputeCreated)
	g.RegisterHandler(EventSubscriptionCancelled, h.SubscriptionCancelled)
	g.RegisterHandler(EventOrderApproved, h.OrderApproved)
}

// settlement is the provider-neutral view of a money movement.
type settlement struct {
	UserID       uint
	ExternalTxID string
	CoinAmount   int64
	UsdAmount    float64
	Category     string
}

// PaymentSucceeded credits the purchased coin package. The ledger keys the
// credit by (provider, transaction id), so a re-entered handler is a no-op.
func (h *Handlers) PaymentSucceeded(ctx context.Context, evt Event) error {
	s, err := parseSettlement(evt.Provider, evt.Payload)
	if err != nil {
		return err
	}

	amounts := coins.SplitPackage(s.CoinAmount)
	_, err = h.ledger.Credit(ctx, s.UserID, amounts, evt.Provider, s.ExternalTxID, s.UsdAmount)
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		h.audit.Record(ctx, security.Event{
			UserID:    &s.UserID,
			EventType: "webhook_credit_replayed",
			Severity:  models.SeverityLow,
			Message:   fmt.Sprintf("credit for %s tx %s already settled", evt.Provider, s.ExternalTxID),
		})
		return nil
	}
	if err != nil {
		return err
	}

	h.audit.Record(ctx, security.Event{
		UserID:    &s.UserID,
		EventType: "promptcoin_credited",
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("+%d PC via %s tx %s", s.CoinAmount, evt.Provider, s.ExternalTxID),
	})
	return nil
}

// PaymentFailed only audits; no balance was touched.
func (h *Handlers) PaymentFailed(ctx context.Context, evt Event) error {
	s, err := parseSettlement(evt.Provider, evt.Payload)
	if err != nil {
		return err
	}
	h.audit.Record(ctx, security.Event{
		UserID:    &s.UserID,
		EventType: "payment_failed",
		Severity:  models.SeverityMedium,
		Message:   fmt.Sprintf("%s payment %s failed ($%.2f)", evt.Provider, s.ExternalTxID, s.UsdAmount),
	})
	return nil
}

// Refund re-credits the refunded coin amount into the category named by the
// provider metadata (analysis when absent), idempotently per transaction.
func (h *Handlers) Refund(ctx context.Context, evt Event) error {
	s, err := parseSettlement(evt.Provider, evt.Payload)
	if err != nil {
		return err
	}

	category := ledger.CategoryAnalysis
	if s.Category != "" {
		if c, err := ledger.ParseCategory(s.Category); err == nil {
			category = c
		}
	}

	reason := fmt.Sprintf("provider refund (%s tx %s)", evt.Provider, s.ExternalTxID)
	_, err = h.ledger.Refund(ctx, s.UserID, category, s.CoinAmount, reason, evt.Provider, "refund:"+s.ExternalTxID)
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		return nil
	}
	return err
}

// DisputeCreated records the dispute for manual follow-up. Dispute
// resolution itself is out of scope; logging is the whole contract.
func (h *Handlers) DisputeCreated(ctx context.Context, evt Event) error {
	h.audit.Record(ctx, security.Event{
		EventType:   "dispute_created",
		Severity:    models.SeverityHigh,
		Message:     fmt.Sprintf("%s dispute on event %s", evt.Provider, evt.EventID),
		RequestData: string(evt.Payload),
	})
	return nil
}

// SubscriptionCancelled is acknowledged and audited; the prepaid core has
// no recurring entitlements to tear down.
func (h *Handlers) SubscriptionCancelled(ctx context.Context, evt Event) error {
	h.audit.Record(ctx, security.Event{
		EventType: "subscription_cancelled",
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("%s subscription cancelled, event %s", evt.Provider, evt.EventID),
	})
	return nil
}

// OrderApproved precedes capture; funds move on payment-succeeded.
func (h *Handlers) OrderApproved(ctx context.Context, evt Event) error {
	h.audit.Record(ctx, security.Event{
		EventType: "order_approved",
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("%s order approved, event %s", evt.Provider, evt.EventID),
	})
	return nil
}

func parseSettlement(provider string, payload []byte) (*settlement, error) {
	switch provider {
	case models.PaymentProviderStripe:
		return parseStripeSettlement(payload)
	case models.PaymentProviderPayPal:
		return parsePayPalSettlement(payload)
	default:
		return nil, fmt.Errorf("no settlement mapping for provider %q", provider)
	}
}

func parseStripeSettlement(payload []byte) (*settlement, error) {
	var raw struct {
		Data struct {
			Object struct {
				ID             string `json:"id"`
				Amount         int64  `json:"amount"`
				AmountReceived int64  `json:"amount_received"`
				AmountRefunded int64  `json:"amount_refunded"`
				Metadata       struct {
					UserID   string `json:"user_id"`
					Category string `json:"category"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	obj := raw.Data.Object
	if obj.ID == "" {
		return nil, errors.New("stripe payload missing data.object.id")
	}
	userID, err := parseUserID(obj.Metadata.UserID)
	if err != nil {
		return nil, err
	}

	// Stripe amounts are integer cents, which equal PC at the fixed rate.
	cents := obj.AmountReceived
	if cents == 0 {
		cents = obj.AmountRefunded
	}
	if cents == 0 {
		cents = obj.Amount
	}
	if cents <= 0 {
		return nil, errors.New("stripe payload carries no positive amount")
	}

	return &settlement{
		UserID:       userID,
		ExternalTxID: obj.ID,
		CoinAmount:   cents,
		UsdAmount:    float64(cents) / coins.CoinsPerUSD,
		Category:     obj.Metadata.Category,
	}, nil
}

func parsePayPalSettlement(payload []byte) (*settlement, error) {
	var raw struct {
		Resource struct {
			ID     string `json:"id"`
			Amount struct {
				Value        string `json:"value"`
				CurrencyCode string `json:"currency_code"`
			} `json:"amount"`
			CustomID string `json:"custom_id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	res := raw.Resource
	if res.ID == "" {
		return nil, errors.New("paypal payload missing resource.id")
	}
	if cc := strings.ToUpper(strings.TrimSpace(res.Amount.CurrencyCode)); cc != "" && cc != "USD" {
		return nil, fmt.Errorf("unsupported currency %q", cc)
	}
	userID, err := parseUserID(res.CustomID)
	if err != nil {
		return nil, err
	}

	usd, err := strconv.ParseFloat(strings.TrimSpace(res.Amount.Value), 64)
	if err != nil {
		return nil, fmt.Errorf("undecodable paypal amount %q", res.Amount.Value)
	}
	pc, err := coins.UsdToCoins(usd)
	if err != nil {
		return nil, err
	}
	if pc <= 0 {
		return nil, errors.New("paypal payload carries no positive amount")
	}

	return &settlement{
		UserID:       userID,
		ExternalTxID: res.ID,
		CoinAmount:   pc,
		UsdAmount:    usd,
	}, nil
}

func parseUserID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("payload carries no usable user id (%q)", s)
	}
	return uint(id), nil
}
