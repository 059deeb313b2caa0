package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed timestamp may be before
// the delivery is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

// StripeVerifier checks the Stripe-Signature header: HMAC-SHA256 with the
// endpoint secret over "<timestamp>.<payload>".
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewStripeVerifier creates a verifier for the given endpoint secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{Secret: secret, Tolerance: DefaultSignatureTolerance, now: time.Now}
}

var errNoSecret = errors.New("provider webhook secret is not configured")

func (v *StripeVerifier) Verify(_ context.Context, d Delivery) (bool, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return false, errNoSecret
	}
	header := d.Headers["stripe-signature"]
	now := time.Now()
	if v.now != nil {
		now = v.now()
	}
	return VerifyStripeSignature(d.Body, header, v.Secret, v.Tolerance, now), nil
}

// VerifyStripeSignature validates a Stripe-Signature header value of the
// form "t=<unix>,v1=<hexsig>[,v1=...]" against the payload.
func VerifyStripeSignature(payload []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) bool {
	header := strings.TrimSpace(signatureHeader)
	if header == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	var timestamp int64 = -1
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}
	if timestamp < 0 || len(candidates) == 0 {
		return false
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range candidates {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}
