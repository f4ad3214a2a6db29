package main

import (
	"context"
	"errors"

	"github.com/memberhub/backend/internal/config"
	"github.com/memberhub/backend/internal/notify"
	"github.com/memberhub/backend/internal/repository"
	"github.com/memberhub/backend/internal/service"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	syncUserID         string
	syncSubscriptionID string
	syncAll            bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire approved members whose access has lapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(svc *service.Services) error {
			res, err := svc.Sweep.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile members against the billing provider",
	Example: `  memberctl sync --user 6f1c...
  memberctl sync --subscription sub_123
  memberctl sync --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.SyncRequest{UserID: syncUserID, SubscriptionID: syncSubscriptionID, All: syncAll}
		return withServices(cmd.Context(), func(svc *service.Services) error {
			report, err := svc.Sync.Sync(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return errors.New("some members could not be reconciled")
			}
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncUserID, "user", "", "reconcile a single member by id")
	syncCmd.Flags().StringVar(&syncSubscriptionID, "subscription", "", "reconcile the member owning a subscription")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "reconcile every member with a subscription")
	syncCmd.MarkFlagsMutuallyExclusive("user", "subscription", "all")
	syncCmd.MarkFlagsOneRequired("user", "subscription", "all")
}

// withServices connects to the database and billing provider and runs fn.
// Events raised by fn are flushed before returning.
func withServices(ctx context.Context, fn func(*service.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	gateway, err := payment.NewGateway(cfg.BillingProvider, cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	if err != nil {
		return err
	}

	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.RedisURL != "" {
		sink, err := notify.NewRedisStreamSink(ctx, cfg.RedisURL, cfg.NotifyStream)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, membership events go to the log only")
		} else {
			defer sink.Close()
			sinks = append(sinks, sink)
		}
	}
	dispatcher := notify.NewDispatcher(notify.DefaultQueueSize, sinks...)
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
	return fn(svc)
}
