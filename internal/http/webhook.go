package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"

	"channelscope/internal/billing"
	"channelscope/internal/models"
	"channelscope/internal/store"
)

// handleStripeWebhook is the only inbound path that mutates entitlement.
// The body must stay raw until the signature is verified, so no JSON
// middleware runs ahead of this handler.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.verifier.Configured() {
		respondError(w, http.StatusServiceUnavailable, errors.New("webhook secret not configured"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, billing.ErrMalformed)
		return
	}

	event, err := s.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	start := time.Now()
	eventType := string(event.Type)

	if s.isNoticeEvent(event) {
		s.dispatchNotice(r, event)
		s.metrics.RecordWebhookEvent(eventType, string(models.OutcomeIgnored))
		s.metrics.RecordWebhookDuration(eventType, time.Since(start))
		respondJSON(w, http.StatusOK, map[string]string{"outcome": string(models.OutcomeIgnored)})
		return
	}

	ev, err := s.normalizer.Normalize(event)
	if err != nil {
		s.metrics.RecordWebhookEvent(eventType, "malformed")
		s.respondServiceError(w, err)
		return
	}
	if ev == nil {
		s.metrics.RecordWebhookEvent(eventType, string(models.OutcomeIgnored))
		respondJSON(w, http.StatusOK, map[string]string{"outcome": string(models.OutcomeIgnored)})
		return
	}

	outcome, err := s.reconciler.Process(r.Context(), *ev)
	s.metrics.RecordWebhookDuration(eventType, time.Since(start))
	if err != nil {
		s.metrics.RecordWebhookEvent(eventType, "error")
		if errors.Is(err, billing.ErrRetryExhausted) {
			// 5xx so the provider redelivers.
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.log.Error().Err(err).Str("event_id", ev.ID).Msg("webhook processing failed")
		respondError(w, http.StatusInternalServerError, errors.New("event processing failed"))
		return
	}

	s.metrics.RecordWebhookEvent(eventType, string(outcome))
	respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// isNoticeEvent marks event kinds that never change entitlement but should
// reach the account holder.
func (s *Server) isNoticeEvent(event stripe.Event) bool {
	return event.Type == "invoice.upcoming" || event.Type == "customer.subscription.trial_will_end"
}

func (s *Server) dispatchNotice(r *http.Request, event stripe.Event) {
	if s.notifier == nil {
		return
	}
	customerID := noticeCustomer(event)
	if customerID == "" {
		return
	}
	acct, err := s.accStore.GetByStripeCustomerID(r.Context(), customerID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("customer", customerID).Msg("notice lookup failed")
		return
	}
	if err := s.notifier.RenewalUpcoming(r.Context(), acct); err != nil {
		s.log.Warn().Err(err).Int64("account_id", acct.ID).Msg("renewal notice not sent")
	}
}

func noticeCustomer(event stripe.Event) string {
	switch event.Type {
	case "invoice.upcoming":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil || inv.Customer == nil {
			return ""
		}
		return inv.Customer.ID
	case "customer.subscription.trial_will_end":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil || sub.Customer == nil {
			return ""
		}
		return sub.Customer.ID
	}
	return ""
}
