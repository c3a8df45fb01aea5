package httpapi

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"channelscope/internal/account"
	"channelscope/internal/billing"
	"channelscope/internal/config"
	"channelscope/internal/metrics"
	"channelscope/internal/models"
	"channelscope/internal/store"
)

// Notifier delivers non-critical notices raised by webhook traffic.
type Notifier interface {
	RenewalUpcoming(ctx context.Context, acct models.Account) error
}

type Server struct {
	accounts   *account.Service
	accStore   store.AccountStore
	reconciler *billing.Reconciler
	verifier   *billing.Verifier
	normalizer *billing.Normalizer
	notifier   Notifier
	metrics    metrics.Recorder
	cfg        config.Config
	log        zerolog.Logger

	metricsHandler http.Handler
}

type ServerConfig struct {
	Accounts       *account.Service
	AccountStore   store.AccountStore
	Reconciler     *billing.Reconciler
	Verifier       *billing.Verifier
	Normalizer     *billing.Normalizer
	Notifier       Notifier
	Metrics        metrics.Recorder
	Config         config.Config
	Logger         zerolog.Logger
	MetricsHandler http.Handler
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Server{
		accounts:       cfg.Accounts,
		accStore:       cfg.AccountStore,
		reconciler:     cfg.Reconciler,
		verifier:       cfg.Verifier,
		normalizer:     cfg.Normalizer,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		cfg:            cfg.Config,
		log:            cfg.Logger,
		metricsHandler: cfg.MetricsHandler,
	}
}

func (s *Server) loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.log.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic", rvr).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if r.Header.Get("Connection") != "Upgrade" {
					respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingRecoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware)
	if timeout := s.cfg.StoreTimeout(); timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Get("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.jwtMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/password", s.handleChangePassword)

			r.Get("/subscription/status", s.handleSubscriptionStatus)
			r.Post("/subscription/checkout", s.handleCreateCheckout)
			r.Post("/subscription/cancel", s.handleCancelSubscription)

			r.Get("/channels/saved", s.handleGetSavedChannels)
			r.Put("/channels/saved", s.handleSaveChannels)

			r.Group(func(r chi.Router) {
				r.Use(s.requireTier(models.TierMonthly))
				r.Get("/premium/trending", s.handleTrending)
			})
		})
	})

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, errors.New("username, email and password are required"))
		return
	}

	acct, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	token, err := s.generateJWT(acct)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"token":   token,
		"account": accountView(acct),
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := s.accounts.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	token, err := s.generateJWT(acct)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"account": accountView(acct),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Get(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, accountView(acct))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.accounts.ChangePassword(r.Context(), accountIDFromContext(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSavedChannels(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Get(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	channels := acct.SavedChannels
	if channels == nil {
		channels = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

type saveChannelsRequest struct {
	Channels []string `json:"channels"`
}

func (s *Server) handleSaveChannels(w http.ResponseWriter, r *http.Request) {
	var req saveChannelsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.accounts.SaveChannels(r.Context(), accountIDFromContext(r.Context()), req.Channels)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": saved})
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrEmailTaken), errors.Is(err, store.ErrUsernameTaken):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, account.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, account.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err)
	case errors.Is(err, billing.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, err)
	case errors.Is(err, billing.ErrMalformed):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, billing.ErrRetryExhausted):
		respondError(w, http.StatusServiceUnavailable, err)
	default:
		s.log.Error().Err(err).Msg("internal server error")
		respondError(w, http.StatusInternalServerError, err)
	}
}

type accountResponse struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PlanTier      string     `json:"plan_tier"`
	Status        string     `json:"status"`
	PeriodEnd     *time.Time `json:"period_end,omitempty"`
	SavedChannels []string   `json:"saved_channels"`
	CreatedAt     time.Time  `json:"created_at"`
}

func accountView(acct models.Account) accountResponse {
	channels := acct.SavedChannels
	if channels == nil {
		channels = []string{}
	}
	return accountResponse{
		ID:            acct.ID,
		Username:      acct.Username,
		Email:         acct.Email,
		PlanTier:      string(acct.PlanTier),
		Status:        string(acct.Status),
		PeriodEnd:     acct.PeriodEnd,
		SavedChannels: channels,
		CreatedAt:     acct.CreatedAt,
	}
}
