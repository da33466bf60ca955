package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/database"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
	"go.uber.org/zap"
)

// TaskNotifier はStep Functionsへのタスク結果の通知です
type TaskNotifier interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// ReservationBatchService は予約の確定バッチ処理を担当します
// 前日以前のscheduledの予約をcompletedにし、結果の通知をStep Functionsに返します
type ReservationBatchService struct {
	db              *database.DB
	reservationRepo repository.ReservationRepository
	sfnClient       TaskNotifier
	cfg             *config.Config
	clock           schedule.Clock
	logger          *zap.Logger
}

// NewReservationBatchService は新しいReservationBatchServiceを作成します
func NewReservationBatchService(ctx context.Context, cfg *config.Config, sfnClient TaskNotifier, logger *zap.Logger) (*ReservationBatchService, error) {
	db, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &ReservationBatchService{
		db:              db,
		reservationRepo: repository.NewReservationRepository(repository.NewDB(db), cfg.Schedule.Location),
		sfnClient:       sfnClient,
		cfg:             cfg,
		clock:           schedule.SystemClock{Location: cfg.Schedule.Location},
		logger:          logger,
	}, nil
}

// Close は終了処理を行います
func (s *ReservationBatchService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Run は予約の確定バッチ処理を実行します
func (s *ReservationBatchService) Run(ctx context.Context) error {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationBatchService.Run")

	startTime := time.Now()

	events, err := s.completePastReservations(ctx)
	if err != nil {
		done(err)
		return utils.GetStackWithError(fmt.Errorf("failed to complete past reservations: %w", err))
	}

	if err := s.sendTaskSuccess(ctx, events); err != nil {
		done(err)
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	utils.AddMetadata(ctx, "duration", duration.String())
	utils.AddMetadata(ctx, "completed_count", len(events))
	done(nil)

	s.logger.Info("reservation batch process completed",
		zap.Int("completed", len(events)),
		zap.Duration("duration", duration),
	)
	return nil
}

// completePastReservations は過去日のscheduledの予約をcompletedにします
// 1件の失敗で全体を止めず、成功した予約のイベントのみを返します
func (s *ReservationBatchService) completePastReservations(ctx context.Context) ([]model.ReservationEvent, error) {
	now := s.clock.Now()
	today := schedule.DateOf(now, s.cfg.Schedule.Location)

	reservations, err := s.reservationRepo.ListScheduledBefore(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled reservations before %s: %w", today.Format(model.DateLayout), err)
	}

	s.logger.Info("found reservations to complete", zap.Int("count", len(reservations)))

	var events []model.ReservationEvent
	for _, reservation := range reservations {
		updated, err := s.reservationRepo.UpdateStatus(ctx, reservation.ID, model.StatusCompleted)
		if err != nil {
			s.logger.Error("failed to complete reservation",
				zap.String("reservation_id", reservation.ID),
				zap.Error(err),
			)
			continue
		}
		events = append(events, model.NewReservationEvent(*updated, now))
	}

	return events, nil
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知します
func (s *ReservationBatchService) sendTaskSuccess(ctx context.Context, events []model.ReservationEvent) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if s.cfg.IsLocal() || s.sfnClient == nil {
		s.logger.Info("local environment detected, skipping step functions task success notification")
		return nil
	}

	notifications := make([]model.Notification, len(events))
	for i, event := range events {
		notifications[i] = model.NewReservationNotification(event)
	}

	output, err := json.Marshal(map[string]any{
		"notifications": notifications,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	_, err = s.sfnClient.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(string(output)),
	})
	if err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	s.logger.Info("sent task success", zap.Int("notifications", len(notifications)))
	return nil
}

// SendTaskFailure はバッチの失敗をStep Functionsに通知します
func (s *ReservationBatchService) SendTaskFailure(ctx context.Context, cause error) error {
	if s.cfg.IsLocal() || s.sfnClient == nil {
		return nil
	}
	_, err := s.sfnClient.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(s.cfg.SFN.TaskToken),
		Error:     aws.String("Batch process failed"),
		Cause:     aws.String(cause.Error()),
	})
	if err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}
