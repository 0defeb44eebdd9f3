// Package app wires the real-time core together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tutorlink/internal/api"
	"tutorlink/internal/billing"
	"tutorlink/internal/config"
	"tutorlink/internal/database"
	"tutorlink/internal/hub"
	"tutorlink/internal/metrics"
	"tutorlink/internal/notify"
	"tutorlink/internal/presence"
	"tutorlink/internal/relationship"
	"tutorlink/internal/rooms"
	"tutorlink/internal/router"
	"tutorlink/internal/session"
	"tutorlink/internal/websocket"
	"tutorlink/pkg/interfaces"
)

const (
	shutdownTimeout = 30 * time.Second
	limiterSweep    = time.Minute
	redisPingWait   = 5 * time.Second
)

// Application owns every long-lived component.
type Application struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store  *database.Manager
	redis  *redis.Client
	router *router.Router
	meter  *billing.Meter
	notify *notify.Dispatcher
	hub    *hub.Hub
	conns  *websocket.Registry

	httpServer *http.Server

	stopOnce sync.Once
	stopErr  error
}

// NewApplication builds the component graph in dependency order:
// store, redis, presence, rooms, router, billing, notifications,
// coordinators, hub, transport.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := metrics.New()

	store, err := database.NewManager(cfg.Store(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	app := &Application{config: cfg, logger: logger.Named("app"), metrics: m, store: store}

	if cfg.Redis.Addr != "" {
		app.redis = billing.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		ctx, cancel := context.WithTimeout(context.Background(), redisPingWait)
		err := app.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			app.closeBackends()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	publisher, err := app.newPublisher()
	if err != nil {
		app.closeBackends()
		return nil, err
	}

	pres := presence.NewRegistry(store, logger)
	tracker := rooms.NewTracker()

	var limiter router.Limiter = router.NewRateLimiter(cfg.RateLimit.MessagesPerMinute, time.Minute)
	var lease billing.Lease = billing.NewLocalLease()
	if app.redis != nil {
		limiter = router.NewRedisRateLimiter(app.redis, "", cfg.RateLimit.MessagesPerMinute, time.Minute)
		lease = billing.NewRedisLease(app.redis, "")
	}
	app.router = router.NewRouter(tracker, pres, limiter, logger, m)

	app.meter = billing.NewMeter(store, pres, lease, billing.Config{
		Interval:   cfg.Billing.Interval,
		UnitCost:   cfg.Billing.UnitCost,
		PayeeShare: cfg.Billing.PayeeShare,
		LeaseTTL:   cfg.Redis.LeaseTTL,
		OpTimeout:  cfg.Database.Timeout,
	}, logger, m)

	app.notify = notify.NewDispatcher(store, pres, publisher, logger, m)

	app.hub = hub.NewHub(hub.Deps{
		Presence:  pres,
		Tracker:   tracker,
		Router:    app.router,
		Meter:     app.meter,
		Sessions:  session.NewManager(store, app.notify, pres, logger),
		Relations: relationship.NewCoordinator(store, app.notify, pres, logger),
		Notify:    app.notify,
		Logger:    logger,
		Metrics:   m,
	})

	app.conns = websocket.NewRegistry()
	wsHandler := websocket.NewHandler(app.conns, app.hub, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	}, logger, m)

	app.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:     api.NewServer(app.hub, store, wsHandler, m, logger),
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// WriteTimeout is left unset: it would cut hijacked sockets.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// newPublisher picks the domain event bus: RabbitMQ when configured, else a
// Redis stream when Redis is, else nothing.
func (app *Application) newPublisher() (interfaces.Publisher, error) {
	switch {
	case app.config.AMQP.URL != "":
		p, err := notify.NewAMQPPublisher(app.config.AMQP.URL, app.config.AMQP.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to amqp: %w", err)
		}
		app.logger.Info("publishing notifications to amqp", zap.String("exchange", app.config.AMQP.Exchange))
		return p, nil
	case app.redis != nil:
		app.logger.Info("publishing notifications to redis stream")
		return notify.NewStreamPublisher(app.redis, "", 0), nil
	default:
		return notify.NopPublisher{}, nil
	}
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.logger.Info("listening", zap.String("addr", app.httpServer.Addr))
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.router.Run(gctx, limiterSweep)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})
	return g.Wait()
}

// Stop shuts down in reverse dependency order: HTTP, sockets, hub and
// meters, then the backends. Safe to call more than once.
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down")
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		app.conns.CloseAll()
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			app.logger.Warn("hub shutdown error", zap.Error(err))
		}
		app.meter.Close()
		if err := app.notify.Close(); err != nil {
			app.logger.Warn("publisher shutdown error", zap.Error(err))
		}
		app.stopErr = app.closeBackends()
		app.logger.Info("shutdown complete")
	})
	return app.stopErr
}

func (app *Application) closeBackends() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	errs = append(errs, app.store.Close())
	return errors.Join(errs...)
}

// Handler exposes the HTTP surface, for tests.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

func (app *Application) Addr() string {
	return app.httpServer.Addr
}
