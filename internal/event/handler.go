package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"go.uber.org/zap"
)

// NotificationProcessor は通知を宛先ごとのレコードとして保存します
type NotificationProcessor interface {
	Process(ctx context.Context, notifications []model.Notification) error
}

// NewReservationEventHandler は予約イベントを通知に変換するasynqのハンドラを返します
// 解析できないペイロードは再試行しません
func NewReservationEventHandler(processor NotificationProcessor, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var e model.ReservationEvent
		if err := json.Unmarshal(task.Payload(), &e); err != nil {
			logger.Warn("invalid reservation event payload", zap.Error(err))
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}

		logger.Info("processing reservation event",
			zap.String("reservation_id", e.ReservationID),
			zap.String("status", string(e.Status)),
		)

		if err := processor.Process(ctx, []model.Notification{model.NewReservationNotification(e)}); err != nil {
			logger.Error("failed to process reservation event",
				zap.String("reservation_id", e.ReservationID),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}
