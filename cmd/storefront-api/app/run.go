package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"time"

	"github.com/aq2208/storefront-api/configs"
	"github.com/aq2208/storefront-api/internal/adapter/cache"
	"github.com/aq2208/storefront-api/internal/adapter/grpc"
	"github.com/aq2208/storefront-api/internal/adapter/http"
	"github.com/aq2208/storefront-api/internal/adapter/http/middleware"
	"github.com/aq2208/storefront-api/internal/adapter/kafka"
	"github.com/aq2208/storefront-api/internal/adapter/observ"
	"github.com/aq2208/storefront-api/internal/adapter/queue"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

const shutdownGrace = 15 * time.Second

type App struct {
	cfg    configs.Config
	log    *slog.Logger
	server *nethttp.Server
	health *grpc.HealthServer
	kafka  *kafka.Consumer
}

func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, func(), error) {
	logger := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)
	logger.Info("storefront-api: starting up", "driver", cfg.Store.Driver)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// init store
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := openStore(pingCtx, cfg)
	cancel()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, st.close)
	checks := map[string]grpc.Check{}
	if st.check != nil {
		checks["store"] = st.check
	}

	// init redis (optional)
	var (
		orderCache usecase.OrderCache
		warmer     queue.StatusWarmer
		idem       usecase.IdempotencyStore
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		closers = append(closers, func() { _ = rdb.Close() })
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		rc := cache.NewRedisCache(rdb, cfg.Cache.TTL)
		orderCache, warmer = rc, rc
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	} else {
		logger.Warn("redis disabled: no idempotency keys, no status cache")
	}

	metrics := observ.NewCheckoutMetrics(prometheus.DefaultRegisterer)
	opts := []usecase.CheckoutOption{
		usecase.WithMetrics(metrics),
		usecase.WithTimeout(cfg.Checkout.Timeout),
		usecase.WithRollbackTimeout(cfg.Checkout.RollbackTimeout),
		usecase.WithTrackingAttempts(cfg.Checkout.TrackingAttempts),
		usecase.WithGuestAccount(cfg.Checkout.GuestUserID),
	}

	// init rabbitmq: producer + created-event consumer (optional)
	if cfg.Rabbit.URL != "" {
		producer, err := setupQueue(cfg, warmer, &closers)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, usecase.WithEvents(producer))
	}

	checkout := usecase.NewCheckout(st.uow, usecase.NewTrackingCodes(cfg.Checkout.TrackingPrefix), opts...)
	updateStatus := usecase.NewUpdateStatus(st.orders, orderCache)

	a := &App{cfg: cfg, log: logger}

	// register kafka-listener (optional)
	if len(cfg.Kafka.Brokers) > 0 {
		grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return fail(fmt.Errorf("kafka group: %w", err))
		}
		closers = append(closers, func() { _ = grp.Close() })
		topic := cfg.Kafka.TopicStatus
		if topic == "" {
			topic = kafka.DefaultStatusTopic
		}
		h := kafka.NewOrderStatusChangedHandler(updateStatus)
		a.kafka = kafka.NewConsumer(grp, []string{topic}, h.Handle)
	}

	// init handlers + routers + middleware
	h := http.NewOrderHandler(
		usecase.NewIdempotentCheckout(checkout, idem),
		usecase.NewTrackOrder(st.orders, orderCache),
		updateStatus,
	)
	router := http.NewRouter(h, middleware.NewAuthz(cfg), http.RouterOptions{
		CheckoutRPS:   cfg.HTTP.CheckoutRPS,
		CheckoutBurst: cfg.HTTP.CheckoutBurst,
	})
	a.server = &nethttp.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	if cfg.App.GRPCAddr != "" {
		hs, err := grpc.NewHealthServer(checks, grpc.Options{CertFile: cfg.App.GRPCCert, KeyFile: cfg.App.GRPCKey})
		if err != nil {
			return fail(fmt.Errorf("grpc health: %w", err))
		}
		a.health = hs
	}

	return a, cleanup, nil
}

func setupQueue(cfg configs.Config, warmer queue.StatusWarmer, closers *[]func()) (*queue.RabbitProducer, error) {
	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	*closers = append(*closers, func() { _ = conn.Close() })

	pubCh, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	topo := queue.Topology{Exchange: cfg.Rabbit.Exchange, RoutingKey: cfg.Rabbit.RoutingKey, Queue: cfg.Rabbit.Queue}
	producer, err := queue.NewRabbitProducer(pubCh, topo)
	if err != nil {
		return nil, err
	}

	// nothing to warm without a cache
	if warmer == nil {
		return producer, nil
	}
	subCh, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	prefetch := cfg.Rabbit.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	h := queue.NewOrderCreatedHandler(warmer)
	router := queue.NewRouter(subCh, queue.WithPrefetch(prefetch))
	q := cfg.Rabbit.Queue
	if q == "" {
		q = queue.DefaultQueue
	}
	router.Register(q, queue.JSONHandler[usecase.CreatedMsg]{HandleFunc: h.HandleCreated})
	if err := router.Start(); err != nil {
		return nil, fmt.Errorf("rabbitmq consume: %w", err)
	}
	return producer, nil
}

// Run serves until ctx is cancelled or a listener fails, then drains.
func (a *App) Run(ctx context.Context) error {
	errc := make(chan error, 3)

	go func() {
		a.log.Info("http listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	if a.health != nil {
		lis, err := net.Listen("tcp", a.cfg.App.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			if err := a.health.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	kctx, stopKafka := context.WithCancel(ctx)
	defer stopKafka()
	if a.kafka != nil {
		go func() {
			if err := a.kafka.Start(kctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("kafka: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-errc:
		a.log.Error("server failed", "error", runErr)
	}

	stopKafka()
	if a.health != nil {
		a.health.Stop()
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.server.Shutdown(sctx); err != nil {
		a.log.Error("http shutdown", "error", err)
	}
	a.log.Info("storefront-api stopped")
	return runErr
}
