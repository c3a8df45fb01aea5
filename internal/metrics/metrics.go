// Package metrics defines the metrics surface for webhook reconciliation.
// Implementations are optional; callers hold a no-op when none is wired.
package metrics

import "time"

// Recorder tracks webhook and reconciliation activity.
type Recorder interface {
	// RecordWebhookEvent records one received provider event and its outcome
	// ("applied", "ignored_duplicate", "ignored_stale", "ignored",
	// "pending_retry", "unauthenticated", "malformed").
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookDuration records end-to-end processing time for an event.
	RecordWebhookDuration(eventType string, d time.Duration)

	// RecordWriteConflict records one compare-and-write retry.
	RecordWriteConflict()

	// RecordTierChange records an entitlement tier transition.
	RecordTierChange(fromTier, toTier string)
}

// Noop is a no-op Recorder.
type Noop struct{}

func (Noop) RecordWebhookEvent(_, _ string)                  {}
func (Noop) RecordWebhookDuration(_ string, _ time.Duration) {}
func (Noop) RecordWriteConflict()                            {}
func (Noop) RecordTierChange(_, _ string)                    {}
