package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout はRunWithTimeoutが時間切れで終了したことを表します
var ErrTimeout = errors.New("operation timed out")

// 指定されたタイムアウト時間内で処理を実行する
// タイムアウトを超えた場合は、コンテキストをキャンセルしてErrTimeoutをラップしたエラーを返す
// 親コンテキストのキャンセルはタイムアウトとは区別して返す
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v: %v", ErrTimeout, timeout, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return ctx.Err()
	}
}
