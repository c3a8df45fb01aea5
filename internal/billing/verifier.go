package billing

import (
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// DefaultTolerance bounds how old a signature timestamp may be before the
// event is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// Verifier authenticates inbound provider events against the shared signing
// secret. Verification runs over the exact raw request bytes; the signature
// scheme is HMAC-SHA256 with a constant-time comparison and a bounded
// freshness window on the embedded timestamp.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Configured reports whether a signing secret is set.
func (v *Verifier) Configured() bool {
	return v.secret != ""
}

// Verify checks the signature header against the raw payload. It is a pure
// check with no side effects. Every failure collapses to ErrUnauthenticated.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if v.secret == "" || sigHeader == "" {
		return stripe.Event{}, ErrUnauthenticated
	}
	event, err := webhook.ConstructEventWithTolerance(payload, sigHeader, v.secret, v.tolerance)
	if err != nil {
		return stripe.Event{}, ErrUnauthenticated
	}
	return event, nil
}
