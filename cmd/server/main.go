package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/config"
	"github.com/MathisL971/expo-inklink-sub000/internal/database"
	"github.com/MathisL971/expo-inklink-sub000/internal/handler"
	"github.com/MathisL971/expo-inklink-sub000/internal/lock"
	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
	"github.com/MathisL971/expo-inklink-sub000/internal/queue"
	"github.com/MathisL971/expo-inklink-sub000/internal/repository"
	"github.com/MathisL971/expo-inklink-sub000/internal/repository/memrepo"
	"github.com/MathisL971/expo-inklink-sub000/internal/repository/mongorepo"
	"github.com/MathisL971/expo-inklink-sub000/internal/router"
	"github.com/MathisL971/expo-inklink-sub000/internal/service"
)

const shutdownTimeout = 10 * time.Second

// backend is what every store driver provides.
type backend interface {
	service.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("close store", "error", err)
		}
	}()

	// Redis is optional; without it the sweeper runs without a lease, the
	// limiter is per process and events are served uncached.
	var rdb *redis.Client
	if c, err := config.NewRedisClient(ctx, config.LoadRedisConfig()); err != nil {
		log.Warn("redis unavailable, continuing without it", "error", err)
	} else {
		rdb = c
		defer rdb.Close()
	}

	publisher := service.NopPublisher()
	if cfg.QueueEnabled {
		p := queue.NewPublisher(cfg.AMQPURL, log)
		defer p.Close()
		publisher = p
	}

	clk := clock.NewSystem()
	opts := []service.Option{
		service.WithLogger(log),
		service.WithPublisher(publisher),
		service.WithHoldDuration(cfg.HoldDuration),
		service.WithCreateMaxAttempts(cfg.CreateMaxAttempts),
		service.WithRollbackMaxAttempts(cfg.RollbackMaxAttempts),
	}
	catalog := service.NewCatalogService(store, clk, opts...)
	tickets := service.NewTicketService(store, store, clk, opts...)
	reservations := service.NewReservationService(store, store, tickets, clk, opts...)

	if cfg.SweeperEnabled {
		sc := service.SweeperConfig{Interval: cfg.SweepInterval, BatchSize: cfg.SweepBatchSize, Logger: log}
		if rdb != nil {
			sc.Locker = lock.NewRedisLocker(rdb, "lock")
		}
		sweeper := service.NewSweeper(store, reservations, clk, sc)
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("sweeper stopped", "error", err)
			}
		}()
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(log))

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)
	eventCache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	eventHandler := handler.NewEventHandler(catalog, log)
	reservationHandler := handler.NewReservationHandler(reservations, log)
	ticketHandler := handler.NewTicketHandler(tickets, log)

	router.RegisterRoutes(e, store)
	router.RegisterPublic(e, eventHandler, limiter, eventCache)
	router.RegisterCustomer(e, reservationHandler, ticketHandler, cfg.JWTSecret, limiter)
	router.RegisterAdmin(e, eventHandler, reservationHandler, ticketHandler, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.StoreDriver)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- e.Start(addr)
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repository.NewStore(db), nil
	case config.DriverMongo:
		client, err := database.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		s := mongorepo.New(client, client.Database(cfg.MongoDB))
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return s, nil
	default:
		return memrepo.New(), nil
	}
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

// requestLogger feeds Echo's request logger into slog, one line per
// request.
func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if uid := middleware.UserID(c); uid != "" {
				attrs = append(attrs, "user_id", uid)
			}
			if v.Error != nil {
				log.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	})
}
