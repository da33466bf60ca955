package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/logger"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/service/batch"
	"go.uber.org/zap"
)

const (
	projectName = "sbcntr-scheduler-notification-batch"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として渡された入力(通知のJSON)を取得
	// ENV=LOCALで引数がない場合は空の入力として扱う
	taskToken := `{"notifications":[]}`
	if flag.NArg() > 0 {
		taskToken = flag.Arg(flag.NArg() - 1)
	} else if os.Getenv("ENV") != "LOCAL" {
		log.Fatalf("Task token is required")
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	// X-Ray設定
	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000",
			ServiceVersion: "1.0.0",
		}); err != nil {
			zl.Warn("failed to configure X-Ray", zap.Error(err))
			if configErr := xray.Configure(xray.Config{}); configErr != nil {
				zl.Fatal("failed to configure default X-Ray settings", zap.Error(configErr))
			}
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	// タスクトークンから通知データを生成
	notifications, err := parseNotifications(taskToken)
	if err != nil {
		zl.Fatal("failed to parse notifications", zap.Error(err))
	}

	// コンテキストを作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 通知バッチサービスを作成
	service, err := batch.NewNotificationBatchService(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to create notification batch service", zap.Error(err))
	}
	defer service.Close()
	service.SetArgs(notifications)

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("notification_count", len(notifications)); err != nil {
			zl.Warn("failed to add notification_count metadata", zap.Error(err))
		}
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			zl.Warn("failed to add timeout metadata", zap.Error(err))
		}
	}

	// シグナルハンドリング
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルを待機
	select {
	case sig := <-sigChan:
		zl.Info("received signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil {
			zl.Error("batch process failed", zap.Error(err))
			service.Close()
			os.Exit(1)
		}
		zl.Info("batch process completed successfully")
	}
}

// parseNotifications は予約バッチの出力(Step Functionsの入力)を通知に変換します
func parseNotifications(input string) ([]model.Notification, error) {
	var payload struct {
		Notifications []model.Notification `json:"notifications"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse task token: %w", err)
	}
	return payload.Notifications, nil
}
