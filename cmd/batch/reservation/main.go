package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/logger"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/service/batch"
	"go.uber.org/zap"
)

const (
	projectName = "sbcntr-scheduler-reservation-batch"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 {
			log.Fatalf("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
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
		configureXRay(zl)
	}

	// Step Functionsクライアントの初期化
	var notifier batch.TaskNotifier
	if !cfg.IsLocal() {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			zl.Fatal("failed to load AWS config", zap.Error(err))
		}
		notifier = sfn.NewFromConfig(awsCfg)
	}

	// コンテキストの作成
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// サービスの初期化
	service, err := batch.NewReservationBatchService(ctx, cfg, notifier, zl)
	if err != nil {
		zl.Fatal("failed to create service", zap.Error(err))
	}
	defer service.Close()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("task_token", taskToken); err != nil {
			zl.Warn("failed to add task_token metadata", zap.Error(err))
		}
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			zl.Warn("failed to add timeout metadata", zap.Error(err))
		}
	}

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルまたはエラーの待機
	select {
	case sig := <-sigChan:
		zl.Info("received signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil {
			zl.Error("batch process failed", zap.Error(err))

			// タイムアウト後でも通知できるよう、新しいコンテキストを使う
			notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := service.SendTaskFailure(notifyCtx, err); err != nil {
				zl.Error("failed to send task failure", zap.Error(err))
			}
			notifyCancel()
			service.Close()
			os.Exit(1)
		}
		zl.Info("batch process completed successfully")
	}
}

func configureXRay(zl *zap.Logger) {
	if err := xray.Configure(xray.Config{
		DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
		ServiceVersion: "1.0.0",
	}); err != nil {
		zl.Warn("failed to configure X-Ray", zap.Error(err))
		// X-Ray設定失敗時はデフォルトの設定を使用
		if configErr := xray.Configure(xray.Config{}); configErr != nil {
			zl.Fatal("failed to configure default X-Ray settings", zap.Error(configErr))
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
}
