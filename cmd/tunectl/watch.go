package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/illmade-knight/go-tunesync/pkg/changefeed"
	"github.com/illmade-knight/go-tunesync/pkg/microservice"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the settings cache warm and serve its status over HTTP",
	Long: `Load every record, refresh them in the background, follow the change feed when a
subscription is configured, and serve /healthz and /settings until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.Close(closeCtx)
		}()

		if err := a.session.Load(ctx); err != nil {
			logger.Warn().Err(err).Msg("Initial load incomplete; the refresher will retry.")
		}
		a.session.StartRefresher(ctx, cfg.RefreshInterval)

		var feed *changefeed.Service
		if a.pubsub != nil && cfg.PubSub.SubscriptionID != "" {
			consumer, err := changefeed.NewGooglePubsubConsumer(ctx,
				changefeed.NewGooglePubsubConsumerDefaults(cfg.PubSub.SubscriptionID), a.pubsub, logger)
			if err != nil {
				return err
			}
			feed, err = changefeed.NewService(2, a.origin, consumer, a.session, logger)
			if err != nil {
				return err
			}
			if err := feed.Start(ctx); err != nil {
				return err
			}
		}

		server := microservice.NewBaseServer(logger, cfg.HTTPPort, a.session)
		if err := server.Start(); err != nil {
			return err
		}
		logger.Info().Str("origin", a.origin).Str("port", server.GetHTTPPort()).Msg("Watching settings.")

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if feed != nil {
			feed.Stop(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	},
}
