package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/config"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"go.uber.org/zap"
)

var jst = time.FixedZone("JST", 9*60*60)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// MockTaskNotifier はテスト用のStep Functionsクライアントです
type MockTaskNotifier struct {
	successInput *sfn.SendTaskSuccessInput
	failureInput *sfn.SendTaskFailureInput
	err          error
}

func (m *MockTaskNotifier) SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	m.successInput = params
	return &sfn.SendTaskSuccessOutput{}, m.err
}

func (m *MockTaskNotifier) SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error) {
	m.failureInput = params
	return &sfn.SendTaskFailureOutput{}, m.err
}

func newTestConfig(env string) *config.Config {
	cfg := &config.Config{Env: env}
	cfg.SFN.TaskToken = "test-token"
	cfg.Schedule.Location = jst
	return cfg
}

func seedReservations(t *testing.T, repo *repository.MemoryReservationRepository) {
	t.Helper()
	ctx := context.Background()
	for _, r := range []model.Reservation{
		{Title: "過去1", Date: time.Date(2024, 6, 8, 0, 0, 0, 0, jst), StartTime: "10:00", EndTime: "11:00", OwnerID: "owner1", Kind: model.KindMeeting},
		{Title: "過去2", Date: time.Date(2024, 6, 9, 0, 0, 0, 0, jst), StartTime: "10:00", EndTime: "11:00", OwnerID: "owner2", AssigneeID: "alice", Kind: model.KindMeeting},
		{Title: "当日", Date: time.Date(2024, 6, 10, 0, 0, 0, 0, jst), StartTime: "10:00", EndTime: "11:00", OwnerID: "owner1", Kind: model.KindMeeting},
	} {
		if _, err := repo.CommitReservation(ctx, r); err != nil {
			t.Fatalf("CommitReservation() error = %v", err)
		}
	}
}

func TestReservationBatchService_Run(t *testing.T) {
	// X-Rayのセグメントを設定
	ctx, seg := xray.BeginSegment(context.Background(), "TestReservationBatchService_Run")
	defer seg.Close(nil)

	tests := []struct {
		name          string
		env           string
		notifierErr   error
		wantErr       bool
		wantSFNCalled bool
	}{
		{"本番環境ではStep Functionsに通知", "production", nil, false, true},
		{"ローカル環境では通知しない", "LOCAL", nil, false, false},
		{"通知失敗はエラー", "production", errors.New("throttled"), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryReservationRepository(jst)
			seedReservations(t, repo)
			notifier := &MockTaskNotifier{err: tt.notifierErr}

			service := &ReservationBatchService{
				reservationRepo: repo,
				sfnClient:       notifier,
				cfg:             newTestConfig(tt.env),
				clock:           fixedClock{now: time.Date(2024, 6, 10, 1, 0, 0, 0, jst)},
				logger:          zap.NewNop(),
			}

			err := service.Run(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}

			// 前日以前の予約のみcompletedになる
			remaining, _ := repo.ListScheduledBefore(context.Background(), time.Date(2024, 6, 10, 0, 0, 0, 0, jst))
			if len(remaining) != 0 {
				t.Errorf("%d past reservations are still scheduled", len(remaining))
			}
			all, _ := repo.ListReservations(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, jst), time.Date(2024, 6, 30, 0, 0, 0, 0, jst), model.GlobalScope())
			for _, r := range all {
				wantStatus := model.StatusCompleted
				if r.Title == "当日" {
					wantStatus = model.StatusScheduled
				}
				if r.Status != wantStatus {
					t.Errorf("%s status = %v, want %v", r.Title, r.Status, wantStatus)
				}
			}

			if (notifier.successInput != nil) != tt.wantSFNCalled {
				t.Fatalf("SendTaskSuccess called = %v, want %v", notifier.successInput != nil, tt.wantSFNCalled)
			}
			if notifier.successInput != nil {
				if aws.ToString(notifier.successInput.TaskToken) != "test-token" {
					t.Errorf("TaskToken = %v", aws.ToString(notifier.successInput.TaskToken))
				}
				var output struct {
					Notifications []model.Notification `json:"notifications"`
				}
				if err := json.Unmarshal([]byte(aws.ToString(notifier.successInput.Output)), &output); err != nil {
					t.Fatalf("output is not valid JSON: %v", err)
				}
				if len(output.Notifications) != 2 {
					t.Errorf("output has %d notifications, want 2", len(output.Notifications))
				}
				for _, n := range output.Notifications {
					if n.Type != model.NotificationTypeStatusChange || n.Event.Status != model.StatusCompleted {
						t.Errorf("notification = %+v", n)
					}
				}
			}
		})
	}
}

func TestReservationBatchService_SendTaskFailure(t *testing.T) {
	notifier := &MockTaskNotifier{}
	service := &ReservationBatchService{
		sfnClient: notifier,
		cfg:       newTestConfig("production"),
		logger:    zap.NewNop(),
	}

	if err := service.SendTaskFailure(context.Background(), errors.New("boom")); err != nil {
		t.Fatalf("SendTaskFailure() error = %v", err)
	}
	if notifier.failureInput == nil || aws.ToString(notifier.failureInput.Cause) != "boom" {
		t.Errorf("SendTaskFailure input = %+v", notifier.failureInput)
	}

	local := &MockTaskNotifier{}
	service.sfnClient = local
	service.cfg = newTestConfig("LOCAL")
	_ = service.SendTaskFailure(context.Background(), errors.New("boom"))
	if local.failureInput != nil {
		t.Error("SendTaskFailure should be skipped in LOCAL")
	}
}
