package utils

import (
	"context"
	"log"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// BeginSubsegment はX-Rayのサブセグメントを開始し、終了関数を返します
// 親セグメントがない場合(テストやトレース無効時)は何もしない終了関数を返します
func BeginSubsegment(ctx context.Context, name string) (context.Context, func(error)) {
	if xray.GetSegment(ctx) == nil {
		return ctx, func(error) {}
	}
	ctx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, func(error) {}
	}
	return ctx, func(err error) { seg.Close(err) }
}

// AddMetadata はサブセグメントにメタデータを追加します。失敗はログのみ出力します
func AddMetadata(ctx context.Context, key string, value any) {
	seg := xray.GetSegment(ctx)
	if seg == nil {
		return
	}
	if err := seg.AddMetadata(key, value); err != nil {
		log.Printf("Failed to add %s metadata: %v", key, err)
	}
}
