// Package webhook receives asynchronous payment provider callbacks and
// turns them into exactly-once settlement effects. The pipeline per
// delivery is RECEIVED -> VERIFIED -> {DUPLICATE | DISPATCHING} ->
// {SUCCESS | FAILED}; FAILED is terminal for the attempt but retryable by
// provider redelivery.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/security"
)

// ClaimStore is the idempotency surface the gateway needs; satisfied by
// idempotency.Store.
type ClaimStore interface {
	Claim(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, *models.WebhookEvent, error)
	Complete(ctx context.Context, id uint, status string, processingErr error) error
	Reopen(ctx context.Context, id uint) (bool, error)
}

// Gateway verifies, deduplicates and dispatches provider webhooks.
type Gateway struct {
	store     ClaimStore
	audit     *security.EventLog
	verifiers map[string]Verifier
	handlers  map[string]HandlerFunc

	// allowUnverified lets deliveries through when the provider's
	// credentials are absent. Development convenience only; every accepted
	// delivery is still logged critical.
	allowUnverified bool
}

// NewGateway creates a gateway with no registered providers or handlers.
func NewGateway(store ClaimStore, audit *security.EventLog, allowUnverified bool) *Gateway {
	return &Gateway{
		store:           store,
		audit:           audit,
		verifiers:       map[string]Verifier{},
		handlers:        map[string]HandlerFunc{},
		allowUnverified: allowUnverified,
	}
}

// RegisterProvider attaches a signature verifier for a provider name.
func (g *Gateway) RegisterProvider(provider string, v Verifier) {
	g.verifiers[strings.ToLower(provider)] = v
}

// RegisterHandler attaches a handler for a normalized event type.
func (g *Gateway) RegisterHandler(eventType string, h HandlerFunc) {
	g.handlers[eventType] = h
}

// Handle runs the full pipeline for one delivery and reports how to answer
// the provider.
func (g *Gateway) Handle(ctx context.Context, d Delivery) Result {
	// Endpoint-validation handshake: echo the challenge, nothing else.
	if d.Challenge != "" {
		return Result{Status: StatusChallenge, HTTPCode: 200, Challenge: d.Challenge}
	}

	provider := strings.ToLower(strings.TrimSpace(d.Provider))
	verifier, ok := g.verifiers[provider]
	if !ok {
		g.audit.Record(ctx, security.Event{
			EventType: "webhook_unknown_provider",
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("no verifier registered for provider %q", provider),
		})
		return Result{Status: StatusInvalidSignature, HTTPCode: 400}
	}

	valid, err := verifier.Verify(ctx, d)
	if err != nil && errors.Is(err, errNoSecret) && g.allowUnverified {
		g.audit.Record(ctx, security.Event{
			EventType: "webhook_accepted_unverified",
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("provider %s has no credentials configured and WEBHOOK_ALLOW_UNVERIFIED is set; accepting unverified delivery", provider),
		})
		valid, err = true, nil
	}
	if err != nil || !valid {
		msg := "signature verification failed"
		if err != nil {
			// Remote verification errors (timeouts included) fail closed.
			msg = fmt.Sprintf("signature verification errored: %v", err)
		}
		g.audit.Record(ctx, security.Event{
			EventType:   "webhook_signature_invalid",
			Severity:    models.SeverityCritical,
			Message:     fmt.Sprintf("provider=%s: %s", provider, msg),
			RequestData: string(d.Body),
		})
		return Result{Status: StatusInvalidSignature, HTTPCode: 400}
	}

	eventID, rawType, err := extractEvent(provider, d.Body)
	if err != nil {
		g.audit.Record(ctx, security.Event{
			EventType:   "webhook_invalid_payload",
			Severity:    models.SeverityMedium,
			Message:     fmt.Sprintf("provider=%s: %v", provider, err),
			RequestData: string(d.Body),
		})
		return Result{Status: StatusInvalidPayload, HTTPCode: 400}
	}

	claimed, stored, err := g.store.Claim(ctx, provider, eventID, rawType, d.Body)
	if err != nil {
		g.audit.Record(ctx, security.Event{
			EventType: "webhook_claim_failed",
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("provider=%s event=%s: %v", provider, eventID, err),
		})
		return Result{Status: StatusFailed, HTTPCode: 500}
	}
	if !claimed {
		// A prior failed attempt is reopened so the redelivery re-runs the
		// handler; anything else is a genuine duplicate.
		reopened := false
		if stored.Status == models.WebhookStatusFailed {
			reopened, err = g.store.Reopen(ctx, stored.ID)
			if err != nil {
				return Result{Status: StatusFailed, HTTPCode: 500}
			}
		}
		if !reopened {
			return Result{Status: StatusDuplicateIgnored, HTTPCode: 200}
		}
	}

	return g.dispatch(ctx, stored.ID, Event{
		Provider:  provider,
		EventID:   eventID,
		EventType: normalizeEventType(provider, rawType),
		RawType:   rawType,
		Payload:   d.Body,
	})
}

func (g *Gateway) dispatch(ctx context.Context, storedID uint, evt Event) Result {
	handler, ok := g.handlers[evt.EventType]
	if !ok {
		// Unrecognized types are successful no-ops.
		g.audit.Record(ctx, security.Event{
			EventType: "webhook_unhandled_type",
			Severity:  models.SeverityLow,
			Message:   fmt.Sprintf("provider=%s type=%s event=%s", evt.Provider, evt.RawType, evt.EventID),
		})
		if err := g.store.Complete(ctx, storedID, models.WebhookStatusSuccess, nil); err != nil {
			return Result{Status: StatusFailed, HTTPCode: 500}
		}
		return Result{Status: StatusIgnored, HTTPCode: 200}
	}

	if err := handler(ctx, evt); err != nil {
		// The claim stays consumed; marking failed lets the provider's
		// redelivery re-enter the handler.
		_ = g.store.Complete(ctx, storedID, models.WebhookStatusFailed, err)
		g.audit.Record(ctx, security.Event{
			EventType: "webhook_handler_failed",
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("provider=%s type=%s event=%s: %v", evt.Provider, evt.RawType, evt.EventID, err),
		})
		return Result{Status: StatusFailed, HTTPCode: 500}
	}

	if err := g.store.Complete(ctx, storedID, models.WebhookStatusSuccess, nil); err != nil {
		return Result{Status: StatusFailed, HTTPCode: 500}
	}
	return Result{Status: StatusOK, HTTPCode: 200}
}

// extractEvent pulls the provider-assigned event id and raw type tag out of
// the payload. A payload without an id falls back to a content hash so
// byte-identical redeliveries still deduplicate.
func extractEvent(provider string, body []byte) (string, string, error) {
	var raw struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", "", fmt.Errorf("undecodable %s payload: %w", provider, err)
	}

	rawType := raw.Type
	if rawType == "" {
		rawType = raw.EventType
	}
	if rawType == "" {
		return "", "", fmt.Errorf("%s payload carries no event type", provider)
	}

	eventID := strings.TrimSpace(raw.ID)
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	return eventID, rawType, nil
}

// normalizeEventType maps raw provider event tags onto the gateway's
// handler table keys. Unknown tags map to themselves and land in the
// no-op default.
func normalizeEventType(provider, rawType string) string {
	switch provider {
	case models.PaymentProviderStripe:
		switch rawType {
		case "payment_intent.succeeded", "checkout.session.completed":
			return EventPaymentSucceeded
		case "payment_intent.payment_failed":
			return EventPaymentFailed
		case "charge.refunded", "refund.created":
			return EventRefund
		case "charge.dispute.created":
			return EventDisputeCreated
		case "customer.subscription.deleted":
			return EventSubscriptionCancelled
		}
	case models.PaymentProviderPayPal:
		switch rawType {
		case "PAYMENT.CAPTURE.COMPLETED":
			return EventPaymentSucceeded
		case "PAYMENT.CAPTURE.DENIED":
			return EventPaymentFailed
		case "PAYMENT.CAPTURE.REFUNDED":
			return EventRefund
		case "CUSTOMER.DISPUTE.CREATED":
			return EventDisputeCreated
		case "BILLING.SUBSCRIPTION.CANCELLED":
			return EventSubscriptionCancelled
		case "CHECKOUT.ORDER.APPROVED":
			return EventOrderApproved
		}
	}
	return rawType
}
