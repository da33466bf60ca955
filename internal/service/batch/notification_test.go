package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"go.uber.org/zap"
)

// MockNotificationRepository はテスト用のモックリポジトリです
type MockNotificationRepository struct {
	createNotificationsCalled bool
	createNotificationsError  error
	notifications             []model.NotificationRecord
}

func (m *MockNotificationRepository) CreateNotifications(ctx context.Context, records []model.NotificationRecord) error {
	m.createNotificationsCalled = true
	m.notifications = records
	return m.createNotificationsError
}

func (m *MockNotificationRepository) GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	return nil, nil
}

func (m *MockNotificationRepository) UpdateIsRead(ctx context.Context, id int, isRead bool) error {
	return nil
}

func reservationNotification(owner, assignee string, status model.ReservationStatus, at time.Time) model.Notification {
	return model.NewReservationNotification(model.ReservationEvent{
		ReservationID: "r-" + owner,
		OwnerID:       owner,
		AssigneeID:    assignee,
		Title:         "定例",
		Date:          "2024-06-10",
		StartTime:     "10:00",
		EndTime:       "11:00",
		Status:        status,
		CreatedAt:     at,
	})
}

func TestNotificationBatchService_Run(t *testing.T) {
	// X-Rayのセグメントを設定
	ctx, seg := xray.BeginSegment(context.Background(), "TestNotificationBatchService_Run")
	defer seg.Close(nil)

	now := time.Now().UTC()
	tests := []struct {
		name          string
		notifications []model.Notification
		mockError     error
		wantErr       bool
		wantRecords   int
	}{
		{
			name:          "0件の通知を正常に処理",
			notifications: []model.Notification{},
			wantRecords:   0,
		},
		{
			name: "1件の通知を正常に処理",
			notifications: []model.Notification{
				reservationNotification("user1", "", model.StatusScheduled, now),
			},
			wantRecords: 1,
		},
		{
			name: "担当者にも通知する",
			notifications: []model.Notification{
				reservationNotification("user1", "alice", model.StatusScheduled, now),
				reservationNotification("user2", "user2", model.StatusCancelled, now),
			},
			wantRecords: 3,
		},
		{
			name: "保存に失敗",
			notifications: []model.Notification{
				reservationNotification("user1", "", model.StatusScheduled, now),
			},
			mockError:   errors.New("db down"),
			wantErr:     true,
			wantRecords: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockNotificationRepo := &MockNotificationRepository{
				createNotificationsError: tt.mockError,
			}

			service := NewNotificationService(mockNotificationRepo, zap.NewNop())
			service.SetArgs(tt.notifications)
			err := service.Run(ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !mockNotificationRepo.createNotificationsCalled {
				t.Error("CreateNotifications was not called")
			}

			if len(mockNotificationRepo.notifications) != tt.wantRecords {
				t.Errorf("Expected %d records, got %d", tt.wantRecords, len(mockNotificationRepo.notifications))
			}
		})
	}
}

func TestNotificationBatchService_ProcessInvalid(t *testing.T) {
	mockNotificationRepo := &MockNotificationRepository{}
	service := NewNotificationService(mockNotificationRepo, zap.NewNop())

	// 作成者のない通知は変換できない
	err := service.Process(context.Background(), []model.Notification{
		reservationNotification("", "", model.StatusScheduled, time.Now()),
	})
	if err == nil {
		t.Fatal("Process() should fail for notification without owner")
	}
	if mockNotificationRepo.createNotificationsCalled {
		t.Error("CreateNotifications should not be called when conversion fails")
	}
}
