package billing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelscope/internal/billing"
)

const testSecret = "whsec_test_secret"

// signPayload builds a Stripe-Signature header the way the provider does.
func signPayload(secret string, payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	v := billing.NewVerifier(testSecret, 5*time.Minute)
	payload := []byte(`{"id": "evt_1", "type": "customer.subscription.created", "data": {"object": {}}}`)

	event, err := v.Verify(payload, signPayload(testSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
}

func TestVerifyRejections(t *testing.T) {
	v := billing.NewVerifier(testSecret, 5*time.Minute)
	payload := []byte(`{"id": "evt_1", "type": "customer.subscription.created", "data": {"object": {}}}`)

	tests := []struct {
		name   string
		body   []byte
		header string
	}{
		{
			name:   "wrong secret",
			body:   payload,
			header: signPayload("whsec_other", payload, time.Now()),
		},
		{
			name:   "tampered body",
			body:   []byte(`{"id": "evt_2", "type": "customer.subscription.created", "data": {"object": {}}}`),
			header: signPayload(testSecret, payload, time.Now()),
		},
		{
			name:   "stale timestamp",
			body:   payload,
			header: signPayload(testSecret, payload, time.Now().Add(-time.Hour)),
		},
		{
			name:   "missing header",
			body:   payload,
			header: "",
		},
		{
			name:   "garbage header",
			body:   payload,
			header: "t=abc,v1=zzz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.body, tt.header)
			// Every failure collapses into the same generic error.
			assert.ErrorIs(t, err, billing.ErrUnauthenticated)
		})
	}
}

func TestVerifierConfigured(t *testing.T) {
	assert.True(t, billing.NewVerifier(testSecret, 0).Configured())
	assert.False(t, billing.NewVerifier("", 0).Configured())
}
