package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"go.uber.org/zap"
)

// Service は画面(カレンダーの表示範囲など)ごとの閲覧者を保持します
// 最後のハートビートからTTLを過ぎた閲覧者は一覧から外れ、定期的に削除されます
// 予約の整合性には関与しません
type Service struct {
	mu     sync.Mutex
	views  map[string]map[string]time.Time
	ttl    time.Duration
	sweep  time.Duration
	now    func() time.Time
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

const (
	DefaultTTL           = time.Minute
	DefaultSweepInterval = 15 * time.Second
)

// NewService は新しいServiceを作成します。0以下の値には既定値を使います
func NewService(ttl, sweepInterval time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Service{
		views:  make(map[string]map[string]time.Time),
		ttl:    ttl,
		sweep:  sweepInterval,
		now:    time.Now,
		logger: logger,
	}
}

// Start は期限切れの閲覧者を削除するゴルーチンを開始します
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop は削除処理を停止し、終了を待ちます
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.removeExpired(); n > 0 {
				s.logger.Debug("removed expired viewers", zap.Int("count", n))
			}
		}
	}
}

// Heartbeat は閲覧者がviewを表示中であることを記録します
func (s *Service) Heartbeat(viewer, view string) error {
	if viewer == "" {
		return &model.ValidationError{Field: "viewer_id", Message: "is required"}
	}
	if view == "" {
		return &model.ValidationError{Field: "view", Message: "is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	viewers, ok := s.views[view]
	if !ok {
		viewers = make(map[string]time.Time)
		s.views[view] = viewers
	}
	viewers[viewer] = s.now()
	return nil
}

// Viewers はviewを表示中の閲覧者をID順に返します
func (s *Service) Viewers(view string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := []string{}
	for viewer, seen := range s.views[view] {
		if now.Sub(seen) < s.ttl {
			out = append(out, viewer)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) removeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for view, viewers := range s.views {
		for viewer, seen := range viewers {
			if now.Sub(seen) >= s.ttl {
				delete(viewers, viewer)
				removed++
			}
		}
		if len(viewers) == 0 {
			delete(s.views, view)
		}
	}
	return removed
}
