package app

import (
	"context"
	"fmt"
	"time"

	api "walletfeed/internal/api/http"
	"walletfeed/internal/api/http/mw"
	"walletfeed/internal/config"
	"walletfeed/internal/events"
	"walletfeed/internal/history"
	"walletfeed/internal/loader"
	"walletfeed/internal/metrics"
	"walletfeed/internal/order"
	"walletfeed/internal/persist"
	"walletfeed/internal/reconcile"
	"walletfeed/internal/security"
	"walletfeed/internal/service"
	"walletfeed/internal/stores/clickhouse"
	"walletfeed/internal/stores/redis"
	"walletfeed/internal/stream"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App

	// infra
	redis  *redis.Client
	ch     *clickhouse.Conn
	writer *clickhouse.Writer
	nats   *stream.Client

	// core
	engine *reconcile.Engine
	bus    *events.Bus
	feed   *service.FeedService

	httpSrv *api.Server

	profiler *pyroscope.Profiler
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}
	return nil
}

// Feed exposes the service for embedding callers.
func (c *Container) Feed() *service.FeedService {
	return c.feed
}

// Build assembles the container. The returned cleanup closes every client in
// reverse construction order and is safe to call after a failed Start.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Container, func(), error) {
		cleanup()
		return nil, nil, err
	}

	profiler, err := metrics.InitPProf(&metrics.PProfConfig{
		Enabled:       cfg.Metrics.Pyroscope.Enabled,
		AppInstanceID: cfg.App.InstanceID,
		AppName:       cfg.Metrics.Pyroscope.AppName,
		ServerAddr:    cfg.Metrics.Pyroscope.ServerAddr,
		AuthToken:     cfg.Metrics.Pyroscope.AuthToken,
		Tags:          cfg.Metrics.Pyroscope.Tags,
	})
	if err != nil {
		return fail(fmt.Errorf("pyroscope initialize failed: %w", err))
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
		cleanups = append(cleanups, func() { _ = profiler.Stop() })
	}

	// Redis client
	rdb, err := redis.New(ctx, &cfg.Stores.Redis)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize redis client: %w", err))
	}
	lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)
	cleanups = append(cleanups, func() { _ = rdb.Close() })

	store, err := persist.NewStore(lg, rdb, cfg.Stores.Redis.Prefix)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize persist store: %w", err))
	}

	// ClickHouse archive, optional
	var (
		ch      *clickhouse.Conn
		writer  *clickhouse.Writer
		archive service.ActivityArchiver
	)
	if cfg.Stores.ClickHouse.Enabled {
		ch, err = clickhouse.New(ctx, &cfg.Stores.ClickHouse)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize clickhouse: %w", err))
		}
		lg.Info("Successfully initialize clickhouse conn")
		cleanups = append(cleanups, func() { _ = ch.Close() })

		writer = clickhouse.NewWriter(lg, ch.Native, cfg.Stores.ClickHouse)
		archive = writer
		cleanups = append(cleanups, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = writer.Close(closeCtx)
		})
	}

	// history backend
	var minter history.TokenMinter
	if cfg.History.Auth.Enabled {
		signer, err := security.NewRS256Signer(&cfg.History.Auth)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize jwt signer: %w", err))
		}
		minter = signer
		lg.Info("Successfully initialize history jwt signer")
	}

	client, err := history.NewClient(lg, &cfg.History, minter, cfg.App.InstanceID)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize history client: %w", err))
	}
	provider := history.NewCachedProvider(lg, client, store)

	// core
	engine := reconcile.NewEngine(lg, order.NewMerger(lg))
	bus := events.NewBus()

	feed := service.NewFeedService(lg, engine, bus, store, archive, provider, loader.Options{
		PageSize:         cfg.Loader.PageSize,
		ReadAheadVisible: cfg.Loader.ReadAheadVisible,
		QueueDepth:       cfg.Loader.QueueDepth,
	})

	// live channel
	natsCl, err := stream.Connect(lg, &cfg.PubSub.NATS)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize nats client: %w", err))
	}
	cleanups = append(cleanups, func() { _ = natsCl.Close() })

	listener, err := stream.NewListener(lg, natsCl, cfg.PubSub.NATS.SubjectPrefix, feed)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize live-update listener: %w", err))
	}

	// ops HTTP
	apiHandlers := api.NewAPI(api.Deps{
		Log:        lg,
		Feed:       feed,
		Redis:      rdb,
		ClickHouse: ch,
		Stream:     natsCl,
	})
	router := api.BuildRouter(apiHandlers, mw.NewLogging(lg))
	httpSrv := api.NewServer(lg, &cfg.API.HTTP, router)

	c := &Container{
		app:      New(lg, httpSrv, listener),
		redis:    rdb,
		ch:       ch,
		writer:   writer,
		nats:     natsCl,
		engine:   engine,
		bus:      bus,
		feed:     feed,
		httpSrv:  httpSrv,
		profiler: profiler,
	}

	return c, cleanup, nil
}
