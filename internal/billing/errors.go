package billing

import "errors"

var (
	// ErrUnauthenticated covers every verification failure: bad signature,
	// missing header, stale timestamp. The response never reveals which
	// part failed.
	ErrUnauthenticated = errors.New("webhook verification failed")

	// ErrMalformed means the payload could not be parsed into any known
	// event shape.
	ErrMalformed = errors.New("malformed event payload")

	// ErrRetryExhausted means the compare-and-write retry budget ran out.
	// The handler maps this to a 5xx so the provider redelivers.
	ErrRetryExhausted = errors.New("reconciliation retry budget exhausted")
)
