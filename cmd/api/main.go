package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/uma-arai/sbcntr-scheduler/internal/cache"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/database"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/logger"
	"github.com/uma-arai/sbcntr-scheduler/internal/event"
	"github.com/uma-arai/sbcntr-scheduler/internal/handler"
	"github.com/uma-arai/sbcntr-scheduler/internal/presence"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
	"github.com/uma-arai/sbcntr-scheduler/internal/service/scheduling"
	"go.uber.org/zap"
)

const (
	projectName = "sbcntr-scheduler-api"
	// 予約イベントの配信の再試行回数
	eventMaxRetry = 5
)

// dependencies は環境ごとに切り替える永続化とイベント発行の実装です
type dependencies struct {
	reservations  repository.ReservationRepository
	notifications repository.NotificationRepository
	cache         cache.AvailabilityCache
	publisher     event.Publisher
	closers       []func() error
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000",
			ServiceVersion: "1.0.0",
		}); err != nil {
			zl.Warn("failed to configure X-Ray", zap.Error(err))
		}
	}

	grid, err := cfg.Grid()
	if err != nil {
		zl.Fatal("invalid grid", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := newDependencies(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	svc := scheduling.NewService(
		deps.reservations,
		deps.cache,
		deps.publisher,
		schedule.SystemClock{Location: cfg.Schedule.Location},
		scheduling.Options{
			Grid:          grid,
			Location:      cfg.Schedule.Location,
			WeekStart:     cfg.Schedule.WeekStart,
			CommitTimeout: cfg.Schedule.CommitTimeout,
		},
		zl,
	)

	presenceSvc := presence.NewService(cfg.Presence.TTL, cfg.Presence.SweepInterval, zl)
	presenceSvc.Start(ctx)
	defer presenceSvc.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zl.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	handler.New(svc, presenceSvc, deps.notifications, zl).Setup(e)

	var h http.Handler = e
	if cfg.EnableTracing {
		h = xray.Handler(xray.NewFixedSegmentNamer(projectName), e)
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("starting api server", zap.String("addr", cfg.HTTP.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("api server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("failed to shutdown api server", zap.Error(err))
		os.Exit(1)
	}
}

// newDependencies はENV=LOCALではプロセス内の実装を、それ以外ではPostgreSQLとRedisを使います
func newDependencies(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*dependencies, error) {
	loc := cfg.Schedule.Location

	if cfg.IsLocal() {
		zl.Info("using in-memory storage")
		return &dependencies{
			reservations:  repository.NewMemoryReservationRepository(loc),
			notifications: repository.NewMemoryNotificationRepository(),
			cache:         cache.NewMemoryAvailabilityCache(cfg.Schedule.CacheTTL),
			publisher:     event.NopPublisher{},
		}, nil
	}

	conn, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	db := repository.NewDB(conn)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.CacheDB,
	})
	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.QueueDB,
	})

	return &dependencies{
		reservations:  repository.NewReservationRepository(db, loc),
		notifications: repository.NewNotificationRepository(db),
		cache:         cache.NewRedisAvailabilityCache(rdb, cfg.Schedule.CacheTTL),
		publisher:     event.NewAsynqPublisher(queue, eventMaxRetry),
		closers:       []func() error{conn.Close, rdb.Close, queue.Close},
	}, nil
}
