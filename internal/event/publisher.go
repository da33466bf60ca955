package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// TypeReservationEvent は予約の作成・更新イベントのタスク種別です
const TypeReservationEvent = "reservation:event"

// Publisher は予約イベントを後続処理(通知など)に渡します
type Publisher interface {
	Publish(ctx context.Context, event model.ReservationEvent) error
}

// NewReservationEventTask はイベントをasynqのタスクに変換します
func NewReservationEventTask(event model.ReservationEvent) (*asynq.Task, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation event: %w", err)
	}
	return asynq.NewTask(TypeReservationEvent, b), nil
}

// AsynqPublisher はasynqのキューにイベントを登録します
type AsynqPublisher struct {
	client   *asynq.Client
	maxRetry int
}

func NewAsynqPublisher(client *asynq.Client, maxRetry int) *AsynqPublisher {
	return &AsynqPublisher{client: client, maxRetry: maxRetry}
}

func (p *AsynqPublisher) Publish(ctx context.Context, event model.ReservationEvent) error {
	task, err := NewReservationEventTask(event)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task, asynq.MaxRetry(p.maxRetry)); err != nil {
		return fmt.Errorf("failed to enqueue reservation event %s: %w", event.ReservationID, err)
	}
	return nil
}

// NopPublisher はイベントを破棄します。ENV=LOCALで使用します
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.ReservationEvent) error { return nil }
