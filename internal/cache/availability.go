package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// DefaultTTL は有効期間が0以下で指定された場合の既定値です
const DefaultTTL = 30 * time.Second

// Lookup はGetの結果です
// Generationは日付の世代で、無効化のたびに進みます
type Lookup struct {
	Slots      []model.SlotStatus
	Hit        bool
	Generation int64
}

// AvailabilityCache は日付・区分ごとの空き状況を一時的に保持します
// 予約の書き込み後は日付単位で全区分を無効化します
// Setには計算前のGetで得た世代を渡します。無効化後の古い世代の値は読み出されません
type AvailabilityCache interface {
	Get(ctx context.Context, date time.Time, scope model.Scope) (Lookup, error)
	Set(ctx context.Context, date time.Time, scope model.Scope, generation int64, slots []model.SlotStatus) error
	InvalidateDate(ctx context.Context, date time.Time) error
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func dateKey(date time.Time) string {
	return "availability:" + date.Format(model.DateLayout)
}

func generationKey(date time.Time) string {
	return dateKey(date) + ":gen"
}

func entryKey(date time.Time, scope model.Scope, generation int64) string {
	return dateKey(date) + ":g" + strconv.FormatInt(generation, 10) + ":" + scope.Key()
}
