package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheusmosca/marketplace-sales/internal/auth"
	"github.com/matheusmosca/marketplace-sales/internal/broker"
	"github.com/matheusmosca/marketplace-sales/internal/events"
	"github.com/matheusmosca/marketplace-sales/internal/httpapi"
)

func newServeCmd(configFile *string) *cobra.Command {
	var (
		apiOnly       bool
		consumersOnly bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the payment event consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiOnly && consumersOnly {
				return errors.New("--api-only and --consumers-only are mutually exclusive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *configFile)
			if err != nil {
				return err
			}
			return a.serve(ctx, !consumersOnly, !apiOnly)
		},
	}
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "run only the HTTP API")
	cmd.Flags().BoolVar(&consumersOnly, "consumers-only", false, "run only the Pub/Sub consumers")
	return cmd
}

func (a *app) serve(ctx context.Context, withAPI, withConsumers bool) error {
	g, gctx := errgroup.WithContext(ctx)

	if withAPI {
		srv, err := a.httpServer()
		if err != nil {
			return err
		}
		g.Go(func() error {
			a.logger.Info("sales service listening", zap.String("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if withConsumers {
		consumer, err := broker.NewConsumer(a.pubsub, a.reconciler, broker.ConsumerConfig{
			SubscriptionPrefix:  a.cfg.PubSub.SubscriptionPrefix,
			DeadLetterTopic:     a.cfg.PubSub.DeadLetterTopic,
			MaxDeliveryAttempts: a.cfg.PubSub.MaxDeliveryAttempts,
			MaxOutstanding:      a.cfg.PubSub.MaxOutstanding,
		}, a.logger.Named("consumer"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return consumer.Run(gctx, events.ConsumedRoutingKeys)
		})
	}

	err := g.Wait()
	if err != nil {
		a.logger.Error("service stopped with error", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	a.drain(drainCtx)
	return err
}

func (a *app) httpServer() (*http.Server, error) {
	verifier, err := auth.NewVerifier(a.cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)

	deps := httpapi.RouterDeps{
		Sales:       a.sales,
		Verifier:    verifier,
		Tracer:      otel.Tracer(a.cfg.ServiceName),
		Logger:      a.logger.Named("http"),
		ServiceName: a.cfg.ServiceName,
	}
	if a.announcer != nil {
		deps.QueryPrepared = a.announcer.QueryPrepared
	}

	return &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}, nil
}
