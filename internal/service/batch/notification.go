package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/database"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"go.uber.org/zap"
)

// NotificationBatchService は通知バッチ処理を担当します
// Step Functionsから渡された通知と、キューから受け取った予約イベントの両方を処理します
type NotificationBatchService struct {
	args             []model.Notification
	db               *database.DB
	notificationRepo repository.NotificationRepository
	logger           *zap.Logger
}

// NewNotificationBatchService は新しいNotificationBatchServiceを作成します
func NewNotificationBatchService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*NotificationBatchService, error) {
	db, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &NotificationBatchService{
		db:               db,
		notificationRepo: repository.NewNotificationRepository(repository.NewDB(db)),
		logger:           logger,
	}, nil
}

// NewNotificationService は既存のリポジトリで通知処理を作成します
func NewNotificationService(repo repository.NotificationRepository, logger *zap.Logger) *NotificationBatchService {
	return &NotificationBatchService{notificationRepo: repo, logger: logger}
}

// Close は終了処理を行います
func (s *NotificationBatchService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetArgs は通知バッチ処理の引数を設定します
func (s *NotificationBatchService) SetArgs(args []model.Notification) {
	s.args = args
}

// Run はSetArgsで渡された通知を処理します
func (s *NotificationBatchService) Run(ctx context.Context) error {
	ctx, done := utils.BeginSubsegment(ctx, "NotificationBatchService.Run")

	s.logger.Info("starting notification batch process", zap.Int("notifications", len(s.args)))
	utils.AddMetadata(ctx, "notification_count", len(s.args))

	startTime := time.Now()
	if err := s.Process(ctx, s.args); err != nil {
		done(err)
		return err
	}

	duration := time.Since(startTime)
	utils.AddMetadata(ctx, "duration", duration.String())
	done(nil)

	s.logger.Info("notification batch process completed", zap.Duration("duration", duration))
	return nil
}

// Process は通知を宛先ごとのレコードに変換して保存します
func (s *NotificationBatchService) Process(ctx context.Context, notifications []model.Notification) error {
	ctx, done := utils.BeginSubsegment(ctx, "NotificationBatchService.Process")

	records := make([]model.NotificationRecord, 0, len(notifications))
	for _, notification := range notifications {
		recs, err := notification.ToNotificationRecords()
		if err != nil {
			done(err)
			return fmt.Errorf("failed to convert notification: %w", err)
		}
		records = append(records, recs...)
	}
	utils.AddMetadata(ctx, "record_count", len(records))

	if err := s.notificationRepo.CreateNotifications(ctx, records); err != nil {
		done(err)
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	done(nil)
	return nil
}
