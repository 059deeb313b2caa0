package webhook

import "context"

// Normalized event types dispatched through the handler table. Raw
// provider-specific type strings are mapped onto these tags; anything that
// maps to nothing is an ignored no-op.
const (
	EventPaymentSucceeded      = "payment-succeeded"
	EventPaymentFailed         = "payment-failed"
	EventRefund                = "refund"
	EventDisputeCreated        = "dispute-created"
	EventSubscriptionCancelled = "subscription-cancelled"
	EventOrderApproved         = "order-approved"
)

// Delivery is one inbound webhook request.
type Delivery struct {
	Provider  string
	Body      []byte
	Headers   map[string]string
	Challenge string
}

// Result tells the HTTP layer how to answer the provider.
type Result struct {
	Status   string
	HTTPCode int
	// Challenge echoes the endpoint-validation handshake value when set.
	Challenge string
}

// Gateway processing outcomes.
const (
	StatusOK               = "ok"
	StatusIgnored          = "ignored"
	StatusChallenge        = "challenge"
	StatusDuplicateIgnored = "duplicate_ignored"
	StatusInvalidSignature = "invalid_signature"
	StatusInvalidPayload   = "invalid_payload"
	StatusFailed           = "failed"
)

// Event is the verified, deduplicated event handed to a handler.
type Event struct {
	Provider  string
	EventID   string
	EventType string
	RawType   string
	Payload   []byte
}

// HandlerFunc processes one event. Handlers run again on provider
// redelivery after a failed attempt, so their side effects must be
// idempotent (insert-if-absent, conditional updates).
type HandlerFunc func(ctx context.Context, evt Event) error

// Verifier authenticates a delivery for one provider. Implementations must
// fail closed: a verification transport error is treated as invalid.
type Verifier interface {
	Verify(ctx context.Context, d Delivery) (bool, error)
}
