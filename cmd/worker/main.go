package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/database"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/logger"
	"github.com/uma-arai/sbcntr-scheduler/internal/event"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"github.com/uma-arai/sbcntr-scheduler/internal/service/batch"
	"go.uber.org/zap"
)

// 予約イベントを受け取り、通知レコードを作成するワーカーです
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

	conn, err := database.NewDB(context.Background(), cfg.DB)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}
	defer conn.Close()

	notifications := batch.NewNotificationService(
		repository.NewNotificationRepository(repository.NewDB(conn)),
		zl,
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.QueueDB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: zl.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(event.TypeReservationEvent, event.NewReservationEventHandler(notifications, zl))

	zl.Info("starting worker", zap.String("redis", cfg.Redis.Addr))
	// Runはシグナルを受け取るまで戻りません
	if err := srv.Run(mux); err != nil {
		zl.Fatal("worker stopped", zap.Error(err))
	}
}
