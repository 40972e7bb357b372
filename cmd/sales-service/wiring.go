package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/announce"
	"github.com/matheusmosca/marketplace-sales/internal/broker"
	"github.com/matheusmosca/marketplace-sales/internal/catalog"
	"github.com/matheusmosca/marketplace-sales/internal/chat"
	"github.com/matheusmosca/marketplace-sales/internal/config"
	"github.com/matheusmosca/marketplace-sales/internal/observability"
	"github.com/matheusmosca/marketplace-sales/internal/reconcile"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
	"github.com/matheusmosca/marketplace-sales/internal/repository/memory"
	"github.com/matheusmosca/marketplace-sales/internal/repository/postgres"
	"github.com/matheusmosca/marketplace-sales/internal/sales"
)

// app holds every long-lived dependency of the process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	telemetry *observability.Telemetry
	pool      *pgxpool.Pool
	sqlDB     *sql.DB
	store     repository.Store

	pubsub     *pubsub.Client
	publisher  *broker.Publisher
	dispatcher *chat.Dispatcher
	notifier   *sales.Notifier
	announcer  *announce.DTMAnnouncer

	reconciler *reconcile.Reconciler
	sales      *sales.Service
}

func loadApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(config.New(), configFile)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	if cfg.Telemetry.Enabled {
		if a.telemetry, err = observability.InitTelemetry(ctx, cfg.ServiceName, cfg.Telemetry.OTLPEndpoint); err != nil {
			return a, fmt.Errorf("init telemetry: %w", err)
		}
	}

	switch cfg.Database.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		a.store = memory.NewStore()
	default:
		a.pool, err = postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, logger)
		if err != nil {
			return a, err
		}
		a.store = postgres.NewStore(a.pool)
	}

	if a.pubsub, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID); err != nil {
		return a, fmt.Errorf("pubsub client: %w", err)
	}
	if a.publisher, err = broker.NewPublisher(a.pubsub); err != nil {
		return a, err
	}

	chatClient, err := chat.NewClient(chat.ClientConfig{
		BaseURL: cfg.Chat.URL,
		Timeout: cfg.Chat.Timeout,
		Retries: cfg.Chat.Retries,
	})
	if err != nil {
		return a, err
	}
	a.dispatcher = chat.NewDispatcher(chatClient, a.store, logger.Named("chat"), 0)
	a.notifier = sales.NewNotifier(a.dispatcher, a.publisher, logger.Named("notifier"), 0)

	a.reconciler, err = reconcile.NewReconciler(reconcile.Deps{
		Store:   a.store,
		Effects: a.notifier,
		Logger:  logger.Named("reconcile"),
		Tracer:  otel.Tracer("sales-service"),
		Meter:   otel.Meter("sales-service"),
	})
	if err != nil {
		return a, err
	}

	catalogClient, err := catalog.NewClient(catalog.Config{
		BaseURL:   cfg.Catalog.URL,
		Timeout:   cfg.Catalog.Timeout,
		Retries:   cfg.Catalog.Retries,
		CacheSize: cfg.Catalog.CacheSize,
		CacheTTL:  cfg.Catalog.CacheTTL,
	})
	if err != nil {
		return a, err
	}

	var creator sales.SaleCreator
	if cfg.DTM.Enabled {
		if a.sqlDB, err = sql.Open("postgres", cfg.Database.DSN()); err != nil {
			return a, fmt.Errorf("open database/sql handle: %w", err)
		}
		a.announcer, err = announce.NewDTMAnnouncer(a.sqlDB, announce.DTMConfig{
			Server:           cfg.DTM.Server,
			PaymentURL:       cfg.DTM.PaymentServiceURL,
			QueryPreparedURL: cfg.DTM.ServiceURL + "/dtm/query-prepared",
		}, logger.Named("dtm"))
		if err != nil {
			return a, err
		}
		creator = a.announcer
	} else {
		if creator, err = announce.NewDirect(a.store, a.publisher, logger.Named("announce")); err != nil {
			return a, err
		}
	}

	a.sales, err = sales.NewService(sales.ServiceDeps{
		Store:   a.store,
		Catalog: catalogClient,
		Creator: creator,
		Effects: a.notifier,
		Logger:  logger.Named("sales"),
	})
	if err != nil {
		return a, err
	}
	return a, nil
}

// drain waits for background side effects, then releases every resource.
func (a *app) drain(ctx context.Context) {
	if a.notifier != nil {
		if err := a.notifier.Wait(ctx); err != nil {
			a.logger.Warn("notifier did not drain", zap.Error(err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Wait(ctx); err != nil {
			a.logger.Warn("chat dispatcher did not drain", zap.Error(err))
		}
	}
	a.close(ctx)
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsub != nil {
		errs = append(errs, a.pubsub.Close())
	}
	if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error while closing resources", zap.Error(err))
	}
	_ = a.logger.Sync()
}
