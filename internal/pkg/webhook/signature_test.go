package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signStripe(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	secret := "whsec_test"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid signature passes", func(t *testing.T) {
		header := signStripe(t, payload, secret, now)
		assert.True(t, VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		header := signStripe(t, payload, "whsec_other", now)
		assert.False(t, VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now))
	})

	t.Run("tampered payload fails", func(t *testing.T) {
		header := signStripe(t, payload, secret, now)
		tampered := []byte(`{"id":"evt_1","type":"charge.refunded"}`)
		assert.False(t, VerifyStripeSignature(tampered, header, secret, DefaultSignatureTolerance, now))
	})

	t.Run("stale timestamp fails", func(t *testing.T) {
		header := signStripe(t, payload, secret, now.Add(-6*time.Minute))
		assert.False(t, VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now))
	})

	t.Run("future timestamp outside tolerance fails", func(t *testing.T) {
		header := signStripe(t, payload, secret, now.Add(6*time.Minute))
		assert.False(t, VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now))
	})

	t.Run("second v1 candidate is accepted", func(t *testing.T) {
		header := signStripe(t, payload, secret, now) + ",v1=deadbeef"
		assert.True(t, VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now))

		bogusFirst := "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=deadbeef," +
			signStripe(t, payload, secret, now)[len(fmt.Sprintf("t=%d,", now.Unix())):]
		assert.True(t, VerifyStripeSignature(payload, bogusFirst, secret, DefaultSignatureTolerance, now))
	})

	t.Run("missing header or secret fails", func(t *testing.T) {
		assert.False(t, VerifyStripeSignature(payload, "", secret, DefaultSignatureTolerance, now))
		assert.False(t, VerifyStripeSignature(payload, signStripe(t, payload, secret, now), "", DefaultSignatureTolerance, now))
		assert.False(t, VerifyStripeSignature(payload, "v1=abcd", secret, DefaultSignatureTolerance, now))
	})
}

func TestStripeVerifierNoSecret(t *testing.T) {
	v := NewStripeVerifier("")
	ok, err := v.Verify(context.Background(), Delivery{Body: []byte("{}")})
	require.ErrorIs(t, err, errNoSecret)
	assert.False(t, ok)
}

func TestStripeVerifierReadsHeader(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_2"}`)
	v := NewStripeVerifier("whsec_test")
	v.now = func() time.Time { return now }

	ok, err := v.Verify(context.Background(), Delivery{
		Body:    payload,
		Headers: map[string]string{"stripe-signature": signStripe(t, payload, "whsec_test", now)},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}
