package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"

	"channelscope/internal/models"
)

type subscriptionStatusResponse struct {
	PlanTier      string     `json:"plan_tier"`
	Status        string     `json:"status"`
	HasAccess     bool       `json:"has_access"`
	PeriodStart   *time.Time `json:"period_start,omitempty"`
	PeriodEnd     *time.Time `json:"period_end,omitempty"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`
}

func (s *Server) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Get(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, subscriptionStatusResponse{
		PlanTier:      string(acct.PlanTier),
		Status:        string(acct.Status),
		HasAccess:     acct.HasAccess(models.TierMonthly, time.Now().UTC()),
		PeriodStart:   acct.PeriodStart,
		PeriodEnd:     acct.PeriodEnd,
		LastPaymentAt: acct.LastPaymentAt,
	})
}

type createCheckoutRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StripeSecretKey == "" {
		respondError(w, http.StatusServiceUnavailable, errors.New("stripe not configured"))
		return
	}

	var req createCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	tier := models.Tier(req.Tier)
	if !tier.Valid() || tier == models.TierNone {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unknown tier %q", req.Tier))
		return
	}
	priceID, ok := s.cfg.PriceForTier(tier)
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Errorf("no price configured for tier %q", req.Tier))
		return
	}

	acct, err := s.accounts.Get(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	stripe.Key = s.cfg.StripeSecretKey

	customerID, err := s.ensureStripeCustomer(r, acct)
	if err != nil {
		s.log.Error().Err(err).Int64("account_id", acct.ID).Msg("stripe customer create failed")
		respondError(w, http.StatusBadGateway, errors.New("payment provider unavailable"))
		return
	}

	mode := stripe.CheckoutSessionModeSubscription
	if tier == models.TierLifetime {
		mode = stripe.CheckoutSessionModePayment
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(s.cfg.CheckoutSuccessURL),
		CancelURL:  stripe.String(s.cfg.CheckoutCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"account_id": strconv.FormatInt(acct.ID, 10),
			"tier":       string(tier),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			s.log.Error().
				Str("stripe_code", string(stripeErr.Code)).
				Str("stripe_msg", stripeErr.Msg).
				Msg("stripe checkout session failed")
			respondError(w, http.StatusBadRequest, fmt.Errorf("stripe error: %s", stripeErr.Code))
			return
		}
		respondError(w, http.StatusBadGateway, errors.New("payment provider unavailable"))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"checkout_url": sess.URL,
		"session_id":   sess.ID,
	})
}

// ensureStripeCustomer returns the account's provider customer ref, creating
// it on first use.
func (s *Server) ensureStripeCustomer(r *http.Request, acct models.Account) (string, error) {
	if acct.StripeCustomerID != nil && *acct.StripeCustomerID != "" {
		return *acct.StripeCustomerID, nil
	}

	cust, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(acct.Email),
		Params: stripe.Params{
			Metadata: map[string]string{
				"account_id": strconv.FormatInt(acct.ID, 10),
			},
		},
	})
	if err != nil {
		return "", err
	}
	if err := s.accStore.SetStripeCustomerID(r.Context(), acct.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// handleCancelSubscription cancels at the provider. Local entitlement is not
// touched here; it converges through the webhook the cancellation emits.
func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StripeSecretKey == "" {
		respondError(w, http.StatusServiceUnavailable, errors.New("stripe not configured"))
		return
	}

	acct, err := s.accounts.Get(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if acct.StripeSubscriptionID == nil || *acct.StripeSubscriptionID == "" {
		respondError(w, http.StatusBadRequest, errors.New("no active subscription"))
		return
	}

	stripe.Key = s.cfg.StripeSecretKey
	if _, err := subscription.Cancel(*acct.StripeSubscriptionID, nil); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			respondError(w, http.StatusBadRequest, errors.New("no active subscription"))
			return
		}
		s.log.Error().Err(err).Int64("account_id", acct.ID).Msg("stripe subscription cancel failed")
		respondError(w, http.StatusBadGateway, errors.New("payment provider unavailable"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

type trendingChannel struct {
	Channel     string  `json:"channel"`
	Subscribers int64   `json:"subscribers"`
	GrowthRate  float64 `json:"growth_rate"`
}

// handleTrending is the representative entitlement-gated query route. The
// middleware has already re-derived access from current billing state.
func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	acct, _ := accountFromContext(r.Context())

	// Placeholder dataset until the analytics pipeline lands.
	channels := []trendingChannel{
		{Channel: "techdaily", Subscribers: 1_240_000, GrowthRate: 0.18},
		{Channel: "midnightlofi", Subscribers: 860_000, GrowthRate: 0.12},
		{Channel: "makerspace", Subscribers: 410_000, GrowthRate: 0.09},
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"plan_tier": string(acct.PlanTier),
		"channels":  channels,
	})
}
