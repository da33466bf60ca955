package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithTimeout(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name    string
		fn      func(context.Context) error
		wantErr error
	}{
		{
			name:    "時間内に成功",
			fn:      func(context.Context) error { return nil },
			wantErr: nil,
		},
		{
			name:    "時間内に失敗",
			fn:      func(context.Context) error { return errBoom },
			wantErr: errBoom,
		},
		{
			name: "時間切れ",
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return nil
			},
			wantErr: ErrTimeout,
		},
		{
			name: "処理がDeadlineExceededを返す",
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantErr: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunWithTimeout(context.Background(), 20*time.Millisecond, tt.fn)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("RunWithTimeout() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RunWithTimeout() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunWithTimeout_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunWithTimeout(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if errors.Is(err, ErrTimeout) {
		t.Errorf("cancelled parent should not be reported as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithTimeout() error = %v, want context.Canceled", err)
	}
}

func TestBeginSubsegment_WithoutSegment(t *testing.T) {
	ctx, done := BeginSubsegment(context.Background(), "test")
	if ctx == nil {
		t.Fatal("BeginSubsegment() returned nil context")
	}
	done(nil)
	done(errors.New("ignored"))
	AddMetadata(ctx, "key", 1)
}
