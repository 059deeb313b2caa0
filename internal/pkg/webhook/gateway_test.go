package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/security"
)

// fakeClaimStore mirrors the insert-as-claim contract in memory.
type fakeClaimStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[string]*models.WebhookEvent
}

func newFakeClaimStore() *fakeClaimStore {
	return &fakeClaimStore{rows: map[string]*models.WebhookEvent{}}
}

func (s *fakeClaimStore) key(provider, eventID string) string {
	return provider + "|" + eventID
}

func (s *fakeClaimStore) Claim(_ context.Context, provider, eventID, eventType string, payload []byte) (bool, *models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[s.key(provider, eventID)]; ok {
		return false, row, nil
	}
	s.nextID++
	row := &models.WebhookEvent{
		ID:          s.nextID,
		Provider:    provider,
		EventID:     eventID,
		EventType:   eventType,
		PayloadJSON: string(payload),
		Status:      models.WebhookStatusProcessing,
	}
	s.rows[s.key(provider, eventID)] = row
	return true, row, nil
}

func (s *fakeClaimStore) Complete(_ context.Context, id uint, status string, processingErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			row.Status = status
			if processingErr != nil {
				row.LastError = processingErr.Error()
			}
			return nil
		}
	}
	return errors.New("row not found")
}

func (s *fakeClaimStore) Reopen(_ context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id && row.Status == models.WebhookStatusFailed {
			row.Status = models.WebhookStatusProcessing
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeClaimStore) status(provider, eventID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[s.key(provider, eventID)]; ok {
		return row.Status
	}
	return ""
}

// staticVerifier answers every delivery the same way.
type staticVerifier struct {
	ok  bool
	err error
}

func (v staticVerifier) Verify(context.Context, Delivery) (bool, error) { return v.ok, v.err }

func discardLog(string, ...any) {}

func newTestGateway(t *testing.T, allowUnverified bool) (*Gateway, *fakeClaimStore) {
	t.Helper()
	store := newFakeClaimStore()
	audit := security.NewEventLogWithFallback(nil, discardLog)
	return NewGateway(store, audit, allowUnverified), store
}

func stripeDelivery(eventID, eventType string) Delivery {
	return Delivery{
		Provider: models.PaymentProviderStripe,
		Body:     []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{}}}`, eventID, eventType)),
	}
}

func TestGatewayDispatchesExactlyOnceUnderRedelivery(t *testing.T) {
	gw, store := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderStripe, staticVerifier{ok: true})

	var calls int
	gw.RegisterHandler(EventPaymentSucceeded, func(context.Context, Event) error {
		calls++
		return nil
	})

	d := stripeDelivery("evt_once", "payment_intent.succeeded")
	first := gw.Handle(context.Background(), d)
	require.Equal(t, StatusOK, first.Status)
	require.Equal(t, 200, first.HTTPCode)

	for i := 0; i < 4; i++ {
		res := gw.Handle(context.Background(), d)
		assert.Equal(t, StatusDuplicateIgnored, res.Status)
		assert.Equal(t, 200, res.HTTPCode)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, models.WebhookStatusSuccess, store.status(models.PaymentProviderStripe, "evt_once"))
}

func TestGatewayReopensFailedEventOnRedelivery(t *testing.T) {
	gw, store := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderStripe, staticVerifier{ok: true})

	attempts := 0
	gw.RegisterHandler(EventPaymentSucceeded, func(context.Context, Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	d := stripeDelivery("evt_retry", "checkout.session.completed")

	res := gw.Handle(context.Background(), d)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, 500, res.HTTPCode)
	require.Equal(t, models.WebhookStatusFailed, store.status(models.PaymentProviderStripe, "evt_retry"))

	res = gw.Handle(context.Background(), d)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, models.WebhookStatusSuccess, store.status(models.PaymentProviderStripe, "evt_retry"))

	// Settled events stay settled.
	res = gw.Handle(context.Background(), d)
	assert.Equal(t, StatusDuplicateIgnored, res.Status)
	assert.Equal(t, 2, attempts)
}

func TestGatewayRejectsInvalidSignatureBeforeDispatch(t *testing.T) {
	gw, store := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderStripe, staticVerifier{ok: false})

	called := false
	gw.RegisterHandler(EventPaymentSucceeded, func(context.Context, Event) error {
		called = true
		return nil
	})

	res := gw.Handle(context.Background(), stripeDelivery("evt_bad", "payment_intent.succeeded"))
	assert.Equal(t, StatusInvalidSignature, res.Status)
	assert.Equal(t, 400, res.HTTPCode)
	assert.False(t, called)
	assert.Empty(t, store.status(models.PaymentProviderStripe, "evt_bad"))
}

func TestGatewayFailsClosedOnVerifierError(t *testing.T) {
	gw, _ := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderPayPal, staticVerifier{err: errors.New("verify api timeout")})

	res := gw.Handle(context.Background(), Delivery{
		Provider: models.PaymentProviderPayPal,
		Body:     []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`),
	})
	assert.Equal(t, StatusInvalidSignature, res.Status)
	assert.Equal(t, 400, res.HTTPCode)
}

func TestGatewayAllowUnverifiedOnlyCoversMissingSecret(t *testing.T) {
	gw, _ := newTestGateway(t, true)
	gw.RegisterProvider(models.PaymentProviderStripe, &StripeVerifier{})
	handled := false
	gw.RegisterHandler(EventPaymentSucceeded, func(context.Context, Event) error {
		handled = true
		return nil
	})

	res := gw.Handle(context.Background(), stripeDelivery("evt_dev", "payment_intent.succeeded"))
	assert.Equal(t, StatusOK, res.Status)
	assert.True(t, handled)

	// A configured secret with a bad signature is still rejected.
	gw2, _ := newTestGateway(t, true)
	gw2.RegisterProvider(models.PaymentProviderStripe, NewStripeVerifier("whsec_test"))
	res = gw2.Handle(context.Background(), stripeDelivery("evt_dev2", "payment_intent.succeeded"))
	assert.Equal(t, StatusInvalidSignature, res.Status)
}

func TestGatewayEchoesChallenge(t *testing.T) {
	gw, _ := newTestGateway(t, false)

	res := gw.Handle(context.Background(), Delivery{
		Provider:  models.PaymentProviderPayPal,
		Challenge: "echo-me-back",
	})
	assert.Equal(t, StatusChallenge, res.Status)
	assert.Equal(t, 200, res.HTTPCode)
	assert.Equal(t, "echo-me-back", res.Challenge)
}

func TestGatewayIgnoresUnknownEventTypes(t *testing.T) {
	gw, store := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderStripe, staticVerifier{ok: true})

	res := gw.Handle(context.Background(), stripeDelivery("evt_misc", "invoice.finalized"))
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Equal(t, 200, res.HTTPCode)
	assert.Equal(t, models.WebhookStatusSuccess, store.status(models.PaymentProviderStripe, "evt_misc"))

	// Marked settled, so a redelivery is a duplicate.
	res = gw.Handle(context.Background(), stripeDelivery("evt_misc", "invoice.finalized"))
	assert.Equal(t, StatusDuplicateIgnored, res.Status)
}

func TestGatewayRejectsMalformedPayload(t *testing.T) {
	gw, _ := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderStripe, staticVerifier{ok: true})

	res := gw.Handle(context.Background(), Delivery{
		Provider: models.PaymentProviderStripe,
		Body:     []byte("not json"),
	})
	assert.Equal(t, StatusInvalidPayload, res.Status)
	assert.Equal(t, 400, res.HTTPCode)
}

func TestGatewayDeduplicatesPayloadsWithoutEventID(t *testing.T) {
	gw, _ := newTestGateway(t, false)
	gw.RegisterProvider(models.PaymentProviderStripe, staticVerifier{ok: true})

	calls := 0
	gw.RegisterHandler(EventRefund, func(context.Context, Event) error {
		calls++
		return nil
	})

	d := Delivery{
		Provider: models.PaymentProviderStripe,
		Body:     []byte(`{"type":"charge.refunded","data":{"object":{}}}`),
	}
	require.Equal(t, StatusOK, gw.Handle(context.Background(), d).Status)
	assert.Equal(t, StatusDuplicateIgnored, gw.Handle(context.Background(), d).Status)
	assert.Equal(t, 1, calls)
}

func TestNormalizeEventType(t *testing.T) {
	assert.Equal(t, EventPaymentSucceeded, normalizeEventType(models.PaymentProviderStripe, "payment_intent.succeeded"))
	assert.Equal(t, EventPaymentSucceeded, normalizeEventType(models.PaymentProviderPayPal, "PAYMENT.CAPTURE.COMPLETED"))
	assert.Equal(t, EventRefund, normalizeEventType(models.PaymentProviderPayPal, "PAYMENT.CAPTURE.REFUNDED"))
	assert.Equal(t, EventOrderApproved, normalizeEventType(models.PaymentProviderPayPal, "CHECKOUT.ORDER.APPROVED"))
	assert.Equal(t, "something.else", normalizeEventType(models.PaymentProviderStripe, "something.else"))
}
