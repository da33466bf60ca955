package presence

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestService_HeartbeatAndViewers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewService(time.Minute, time.Hour, zap.NewNop())
	s.now = clock.Now

	_ = s.Heartbeat("bob", "month:2024-06")
	_ = s.Heartbeat("alice", "month:2024-06")
	_ = s.Heartbeat("carol", "day:2024-06-10")

	if got := s.Viewers("month:2024-06"); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("Viewers() = %v, want [alice bob]", got)
	}
	if got := s.Viewers("week:2024-06-09"); len(got) != 0 {
		t.Errorf("Viewers() for unknown view = %v, want empty", got)
	}

	clock.Advance(40 * time.Second)
	_ = s.Heartbeat("alice", "month:2024-06")
	clock.Advance(30 * time.Second)

	// bobは70秒前、aliceは30秒前
	if got := s.Viewers("month:2024-06"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Viewers() after expiry = %v, want [alice]", got)
	}

	if n := s.removeExpired(); n != 2 {
		t.Errorf("removeExpired() = %d, want 2", n)
	}
	if _, ok := s.views["day:2024-06-10"]; ok {
		t.Error("empty view should be removed")
	}
}

func TestService_HeartbeatValidation(t *testing.T) {
	s := NewService(time.Minute, time.Hour, zap.NewNop())

	tests := []struct {
		name   string
		viewer string
		view   string
	}{
		{"閲覧者なし", "", "month:2024-06"},
		{"画面なし", "alice", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Heartbeat(tt.viewer, tt.view); !errors.Is(err, model.ErrValidation) {
				t.Errorf("Heartbeat() error = %v, want validation error", err)
			}
		})
	}
}

func TestService_StartStop(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewService(time.Minute, 5*time.Millisecond, zap.NewNop())
	s.now = clock.Now

	_ = s.Heartbeat("alice", "month:2024-06")
	clock.Advance(2 * time.Minute)

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		remaining := len(s.views)
		s.mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired viewers were not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	s.Stop()
}

func TestNewService_NonPositiveDurations(t *testing.T) {
	s := NewService(0, -time.Second, zap.NewNop())
	if s.ttl != DefaultTTL || s.sweep != DefaultSweepInterval {
		t.Errorf("ttl = %v, sweep = %v; want defaults", s.ttl, s.sweep)
	}

	// 0以下の掃除間隔でもティッカーが作成できること
	s.Start(context.Background())
	s.Stop()
}
