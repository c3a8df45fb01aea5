package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"channelscope/internal/account"
	"channelscope/internal/billing"
	"channelscope/internal/config"
	"channelscope/internal/db"
	"channelscope/internal/email"
	httpapi "channelscope/internal/http"
	prommetrics "channelscope/internal/metrics/prometheus"
	"channelscope/internal/store/postgres"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Warn().Err(err).Msg("load .env failed")
		}
	} else if err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("stat .env failed")
	}

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	pg := postgres.New(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := prommetrics.New(reg, "channelscope")

	resend := email.NewResendClient(cfg.ResendAPIKey, cfg.ResendFromEmail)
	var (
		billingNotifier billing.Notifier
		httpNotifier    httpapi.Notifier
	)
	if resend.IsConfigured() {
		billingNotifier = resend
		httpNotifier = resend
	} else {
		log.Warn().Msg("email notices disabled: resend not configured")
	}

	reconciler := billing.NewReconciler(pg, pg, billing.ReconcilerConfig{
		Notifier:    billingNotifier,
		Metrics:     recorder,
		Logger:      log.With().Str("component", "reconciler").Logger(),
		MaxAttempts: cfg.ReconcileMaxAttempts,
	})

	server := httpapi.NewServer(httpapi.ServerConfig{
		Accounts:       account.New(pg),
		AccountStore:   pg,
		Reconciler:     reconciler,
		Verifier:       billing.NewVerifier(cfg.StripeWebhookSecret, cfg.WebhookTolerance()),
		Normalizer:     billing.NewNormalizer(cfg.PriceTiers()),
		Notifier:       httpNotifier,
		Metrics:        recorder,
		Config:         cfg,
		Logger:         log.With().Str("component", "http").Logger(),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.StoreTimeout() + 5*time.Second,
		WriteTimeout: cfg.StoreTimeout() + 5*time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
}
