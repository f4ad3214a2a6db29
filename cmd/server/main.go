package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/memberhub/backend/internal/config"
	"github.com/memberhub/backend/internal/handler"
	"github.com/memberhub/backend/internal/logging"
	appMiddleware "github.com/memberhub/backend/internal/middleware"
	"github.com/memberhub/backend/internal/notify"
	"github.com/memberhub/backend/internal/repository"
	"github.com/memberhub/backend/internal/service"
	"github.com/memberhub/backend/internal/telemetry"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "memberhub", version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("database connected and migrated")

	gateway, err := payment.NewGateway(cfg.BillingProvider, cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("billing gateway init failed")
	}
	if !gateway.Configured() {
		log.Warn().Str("provider", cfg.BillingProvider).Msg("billing not configured, subscription operations will fail")
	}

	dispatcher, closeSinks := newDispatcher(ctx, cfg)
	defer closeSinks()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	svc := service.New(
		service.Stores{
			Members:  repository.NewMemberRepository(db),
			Payments: repository.NewPaymentRepository(db),
			Settings: repository.NewSettingsRepository(db),
		},
		gateway,
		dispatcher,
		service.Options{
			Currency:        cfg.BillingCurrency,
			PublicBaseURL:   cfg.PublicBaseURL,
			ExemptRoles:     cfg.SweepExemptRoles,
			SyncConcurrency: cfg.SyncConcurrency,
		},
	)
	authSvc := service.NewAuthService(cfg.JWTSecret)

	healthHandler := handler.NewHealthHandler(db, gateway.Configured)
	settingsHandler := handler.NewSettingsHandler(svc.Settings)
	paymentHandler := handler.NewPaymentHandler(svc.Checkout)
	memberHandler := handler.NewMemberHandler(svc.Members)
	adminHandler := handler.NewAdminHandler(svc.Manual, svc.Sync, svc.Sweep)
	webhookHandler := handler.NewWebhookHandler(gateway, svc.Events)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 20 req/sec per IP, burst of 40
	globalRL := appMiddleware.NewRateLimiter(ctx, "global", 20, 40)
	r.Use(globalRL.Middleware())

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/fees", settingsHandler.PublicFees)
	r.Method(http.MethodPost, "/api/billing/webhook", webhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.CronSecret(cfg.CronSecret))
		r.Post("/api/cron/sweep", adminHandler.Sweep)
	})
	if cfg.CronSecret == "" {
		log.Warn().Msg("CRON_SECRET not set, /api/cron/sweep is unauthenticated")
	}

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Get("/api/membership", memberHandler.Me)
		r.Get("/api/membership/payments", memberHandler.MyPayments)

		r.Group(func(r chi.Router) {
			// Checkout creates provider objects; keep it tighter than the global limit.
			checkoutRL := appMiddleware.NewRateLimiter(ctx, "checkout", 1, 5)
			r.Use(checkoutRL.Middleware())
			r.Post("/api/billing/checkout", paymentHandler.CreateCheckout)
			r.Post("/api/billing/checkout/confirm", paymentHandler.ConfirmCheckout)
			r.Post("/api/billing/cancel", paymentHandler.Cancel)
		})

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)

			r.Post("/api/admin/members", memberHandler.Create)
			r.Get("/api/admin/members/{id}", memberHandler.Get)
			r.Get("/api/admin/members/{id}/payments", memberHandler.Payments)
			r.Post("/api/admin/members/{id}/approve", memberHandler.Approve)
			r.Post("/api/admin/members/{id}/reject", memberHandler.Reject)
			r.Put("/api/admin/members/{id}/level", memberHandler.ChangeLevel)

			r.Post("/api/admin/payments/manual", adminHandler.RecordPayment)
			r.Post("/api/admin/billing/sync", adminHandler.Sync)
			r.Post("/api/admin/sweep", adminHandler.Sweep)

			r.Get("/api/admin/settings/fees", settingsHandler.GetFees)
			r.Put("/api/admin/settings/fees", settingsHandler.SetFees)
			r.Get("/api/admin/settings/trials", settingsHandler.GetTrials)
			r.Put("/api/admin/settings/trials", settingsHandler.SetTrials)
		})
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Str("version", version).Msg("memberhub backend listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

// newDispatcher builds the event dispatcher. The Redis stream sink is optional
// and a connection failure only disables it.
func newDispatcher(ctx context.Context, cfg *config.Config) (*notify.Dispatcher, func()) {
	sinks := []notify.Sink{notify.LogSink{}}
	closeSinks := func() {}
	if cfg.RedisURL != "" {
		sink, err := notify.NewRedisStreamSink(ctx, cfg.RedisURL, cfg.NotifyStream)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, membership events go to the log only")
		} else {
			sinks = append(sinks, sink)
			closeSinks = func() { _ = sink.Close() }
			log.Info().Str("stream", cfg.NotifyStream).Msg("publishing membership events to redis")
		}
	}
	return notify.NewDispatcher(notify.DefaultQueueSize, sinks...), closeSinks
}
