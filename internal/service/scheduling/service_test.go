package scheduling

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/cache"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
	"go.uber.org/zap"
)

var jst = time.FixedZone("JST", 9*60*60)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// MockPublisher はテスト用のイベント発行です
type MockPublisher struct {
	mu     sync.Mutex
	err    error
	events []model.ReservationEvent
}

func (m *MockPublisher) Publish(ctx context.Context, e model.ReservationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

// blockingRepository は登録処理がコンテキストの終了まで戻らないリポジトリです
type blockingRepository struct {
	*repository.MemoryReservationRepository
}

func (b blockingRepository) CommitReservation(ctx context.Context, r model.Reservation) (*model.Reservation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// pausingRepository は最初の一覧取得で予約を読んだ後、releaseが閉じられるまで戻りません
type pausingRepository struct {
	*repository.MemoryReservationRepository
	once    sync.Once
	listed  chan struct{}
	release chan struct{}
}

func (p *pausingRepository) ListReservations(ctx context.Context, from, to time.Time, scope model.Scope) ([]model.Reservation, error) {
	rs, err := p.MemoryReservationRepository.ListReservations(ctx, from, to, scope)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.listed)
		<-p.release
	}
	return rs, err
}

func day(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, jst)
}

func candidate(d int, start, end, assignee string) model.Candidate {
	return model.Candidate{
		Title:      "打ち合わせ",
		Date:       day(d),
		StartTime:  start,
		EndTime:    end,
		OwnerID:    "owner1",
		AssigneeID: assignee,
		Kind:       model.KindMeeting,
	}
}

type testEnv struct {
	svc       *Service
	repo      *repository.MemoryReservationRepository
	cache     *cache.MemoryAvailabilityCache
	publisher *MockPublisher
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	repo := repository.NewMemoryReservationRepository(jst)
	c := cache.NewMemoryAvailabilityCache(time.Minute)
	pub := &MockPublisher{}
	svc := NewService(repo, c, pub, fixedClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, jst)}, Options{
		Grid:          schedule.DefaultGrid(),
		Location:      jst,
		CommitTimeout: time.Second,
	}, zap.NewNop())
	return testEnv{svc: svc, repo: repo, cache: c, publisher: pub}
}

func TestService_TryBook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 空き状況をキャッシュさせておく
	before, err := env.svc.GetAvailability(ctx, day(10), model.GlobalScope())
	if err != nil {
		t.Fatalf("GetAvailability() error = %v", err)
	}
	if slot, _ := schedule.FindSlot(before, "10:00"); !slot.Available {
		t.Fatal("10:00 should be available before booking")
	}

	r, err := env.svc.TryBook(ctx, candidate(10, "10:00", "11:00", ""))
	if err != nil {
		t.Fatalf("TryBook() error = %v", err)
	}
	if r.ID == "" || r.Status != model.StatusScheduled {
		t.Errorf("TryBook() = %+v", r)
	}

	after, err := env.svc.GetAvailability(ctx, day(10), model.GlobalScope())
	if err != nil {
		t.Fatalf("GetAvailability() error = %v", err)
	}
	for _, tt := range []struct {
		time      string
		available bool
	}{
		{"09:30", true},
		{"10:00", false},
		{"10:30", false},
		{"11:00", true},
	} {
		slot, _ := schedule.FindSlot(after, tt.time)
		if slot.Available != tt.available {
			t.Errorf("slot %s available = %v, want %v", tt.time, slot.Available, tt.available)
		}
	}

	if len(env.publisher.events) != 1 || env.publisher.events[0].ReservationID != r.ID {
		t.Errorf("published events = %+v", env.publisher.events)
	}

	_, err = env.svc.TryBook(ctx, candidate(10, "10:30", "11:30", ""))
	var conflictErr *model.ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("TryBook() overlapping error = %v, want ConflictError", err)
	}
	if conflictErr.ReservationID != r.ID || conflictErr.OverlapStart != "10:30" || conflictErr.OverlapEnd != "11:00" {
		t.Errorf("ConflictError = %+v", conflictErr)
	}
	if len(env.publisher.events) != 1 {
		t.Error("conflicting booking should not publish an event")
	}

	if _, err := env.svc.TryBook(ctx, candidate(10, "11:00", "12:00", "")); err != nil {
		t.Errorf("TryBook() adjacent error = %v", err)
	}
}

func TestService_TryBookValidation(t *testing.T) {
	withKind := func(c model.Candidate, k model.Kind) model.Candidate {
		c.Kind = k
		return c
	}

	tests := []struct {
		name      string
		candidate model.Candidate
		wantErr   error
		wantEnd   string
	}{
		{"件名なし", func() model.Candidate { c := candidate(10, "10:00", "", ""); c.Title = "  "; return c }(), model.ErrValidation, ""},
		{"未知の種類", withKind(candidate(10, "10:00", "", ""), "lunch"), model.ErrValidation, ""},
		{"作成者なし", func() model.Candidate { c := candidate(10, "10:00", "", ""); c.OwnerID = ""; return c }(), model.ErrValidation, ""},
		{"過去日", candidate(0, "10:00", "11:00", ""), model.ErrValidation, ""},
		{"開始時刻の形式不正", candidate(10, "10時", "11:00", ""), model.ErrParse, ""},
		{"終了が開始より前", candidate(10, "11:00", "10:00", ""), model.ErrValidation, ""},
		{"日付をまたぐ", candidate(10, "23:30", "", ""), model.ErrValidation, ""},
		{"終了時刻を種類から補完", withKind(candidate(10, "10:00", "", ""), model.KindCall), nil, "10:30"},
		{"当日は予約できる", candidate(1, "10:00", "11:00", ""), nil, "11:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			r, err := env.svc.TryBook(context.Background(), tt.candidate)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("TryBook() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("TryBook() error = %v", err)
			}
			if r.EndTime != tt.wantEnd {
				t.Errorf("TryBook() end = %v, want %v", r.EndTime, tt.wantEnd)
			}
		})
	}
}

func TestService_TryBookTimeout(t *testing.T) {
	repo := blockingRepository{repository.NewMemoryReservationRepository(jst)}
	svc := NewService(repo, nil, nil, fixedClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, jst)}, Options{
		Location:      jst,
		CommitTimeout: 20 * time.Millisecond,
	}, zap.NewNop())

	_, err := svc.TryBook(context.Background(), candidate(10, "10:00", "11:00", ""))
	if !errors.Is(err, model.ErrPersistenceTimeout) {
		t.Fatalf("TryBook() error = %v, want PersistenceTimeoutError", err)
	}
	var timeoutErr *model.PersistenceTimeoutError
	if !errors.As(err, &timeoutErr) || timeoutErr.Operation != "commit" || timeoutErr.Timeout != 20*time.Millisecond {
		t.Errorf("PersistenceTimeoutError = %+v", timeoutErr)
	}
	if errors.Is(err, model.ErrConflict) {
		t.Error("timeout must not be reported as conflict")
	}
}

func TestService_PublishFailureDoesNotFailBooking(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("queue down")

	if _, err := env.svc.TryBook(context.Background(), candidate(10, "10:00", "11:00", "")); err != nil {
		t.Errorf("TryBook() error = %v, want nil", err)
	}
}

// 空き状況の計算中に予約が確定した場合、その計算結果がキャッシュから返らないことを確認する
func TestService_AvailabilityReadRacingCommit(t *testing.T) {
	repo := &pausingRepository{
		MemoryReservationRepository: repository.NewMemoryReservationRepository(jst),
		listed:                      make(chan struct{}),
		release:                     make(chan struct{}),
	}
	svc := NewService(repo, cache.NewMemoryAvailabilityCache(time.Minute), nil,
		fixedClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, jst)},
		Options{Grid: schedule.DefaultGrid(), Location: jst, CommitTimeout: time.Second},
		zap.NewNop())
	ctx := context.Background()

	readDone := make(chan error, 1)
	go func() {
		_, err := svc.GetAvailability(ctx, day(10), model.GlobalScope())
		readDone <- err
	}()

	// 一覧取得が空の予約を読んだ状態で止まっている間に予約を確定させる
	<-repo.listed
	if _, err := svc.TryBook(ctx, candidate(10, "10:00", "11:00", "")); err != nil {
		t.Fatalf("TryBook() error = %v", err)
	}
	close(repo.release)
	if err := <-readDone; err != nil {
		t.Fatalf("GetAvailability() error = %v", err)
	}

	tests := []struct {
		name string
		get  func(context.Context, time.Time, model.Scope) ([]model.SlotStatus, error)
	}{
		{"キャッシュ経由", svc.GetAvailability},
		{"キャッシュを使わない", svc.GetFreshAvailability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots, err := tt.get(ctx, day(10), model.GlobalScope())
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if slot, _ := schedule.FindSlot(slots, "10:00"); slot.Available {
				t.Error("10:00 is reported available after it was booked")
			}
		})
	}
}

// 予約・取消・再開が並行しても、scheduledの予約同士が重複しないことを確認する
func TestService_ConcurrentBookingsNeverOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	assignees := []string{"", "alice", "bob"}

	type statusChange struct {
		pick   int
		status model.ReservationStatus
	}

	for round := 0; round < 20; round++ {
		env := newTestEnv(t)
		ctx := context.Background()

		var candidates []model.Candidate
		for i := 0; i < 30; i++ {
			start := 9*60 + rng.Intn(16)*15
			end := start + 15*(1+rng.Intn(8))
			c := candidate(10, schedule.FormatMinutes(start), schedule.FormatMinutes(end), assignees[rng.Intn(len(assignees))])
			c.Title = fmt.Sprintf("r%d-%d", round, i)
			candidates = append(candidates, c)
		}
		var changes []statusChange
		for i := 0; i < 30; i++ {
			status := model.StatusCancelled
			if rng.Intn(2) == 0 {
				status = model.StatusScheduled
			}
			changes = append(changes, statusChange{pick: rng.Intn(1000), status: status})
		}

		var (
			mu  sync.Mutex
			ids []string
			wg  sync.WaitGroup
		)
		for _, c := range candidates {
			wg.Add(1)
			go func(c model.Candidate) {
				defer wg.Done()
				r, err := env.svc.TryBook(ctx, c)
				if err != nil {
					if !errors.Is(err, model.ErrConflict) {
						t.Errorf("TryBook() unexpected error = %v", err)
					}
					return
				}
				mu.Lock()
				ids = append(ids, r.ID)
				mu.Unlock()
			}(c)
		}
		for _, ch := range changes {
			wg.Add(1)
			go func(ch statusChange) {
				defer wg.Done()
				// 予約が揃う前後のどちらにも取消・再開が入るようにする
				for attempt := 0; attempt < 3; attempt++ {
					mu.Lock()
					n := len(ids)
					var id string
					if n > 0 {
						id = ids[ch.pick%n]
					}
					mu.Unlock()
					if id == "" {
						runtime.Gosched()
						continue
					}
					if _, err := env.svc.UpdateStatus(ctx, id, ch.status); err != nil && !errors.Is(err, model.ErrConflict) {
						t.Errorf("UpdateStatus() unexpected error = %v", err)
					}
					return
				}
			}(ch)
		}
		wg.Wait()

		all, err := env.repo.ListReservations(ctx, day(10), day(10), model.GlobalScope())
		if err != nil {
			t.Fatalf("ListReservations() error = %v", err)
		}
		if len(all) == 0 {
			t.Fatalf("round %d: no reservation was booked", round)
		}
		var booked []model.Reservation
		for _, r := range all {
			if r.IsScheduled() {
				booked = append(booked, r)
			}
		}
		for i, r := range booked {
			conflict, err := schedule.CheckConflict(r, booked[i+1:], jst)
			if err != nil {
				t.Fatalf("CheckConflict() error = %v", err)
			}
			if conflict != nil {
				t.Errorf("round %d: %s overlaps %s", round, r.ID, conflict.ReservationID)
			}
		}
	}
}

func TestService_Reschedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.svc.TryBook(ctx, candidate(10, "10:00", "11:00", ""))
	b, _ := env.svc.TryBook(ctx, candidate(10, "13:00", "14:00", ""))

	// 終了時刻を省略すると所要時間を維持する
	moved, err := env.svc.Reschedule(ctx, a.ID, day(11), "15:00", "")
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if moved.EndTime != "16:00" || !moved.Date.Equal(day(11)) {
		t.Errorf("Reschedule() = %+v", moved)
	}

	// 元の日の空きが反映される
	slots, _ := env.svc.GetAvailability(ctx, day(10), model.GlobalScope())
	if slot, _ := schedule.FindSlot(slots, "10:00"); !slot.Available {
		t.Error("10:00 on the original date should be available after reschedule")
	}

	tests := []struct {
		name    string
		id      string
		date    time.Time
		start   string
		end     string
		wantErr error
	}{
		{"他の予約と重複", b.ID, day(11), "15:30", "", model.ErrConflict},
		{"存在しない予約", "missing", day(11), "09:00", "", model.ErrNotFound},
		{"過去日", b.ID, day(1).AddDate(0, 0, -1), "09:00", "", model.ErrValidation},
		{"時刻の形式不正", b.ID, day(12), "9:00", "", model.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.Reschedule(ctx, tt.id, tt.date, tt.start, tt.end); !errors.Is(err, tt.wantErr) {
				t.Errorf("Reschedule() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_UpdateStatusAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.svc.TryBook(ctx, candidate(10, "10:00", "11:00", ""))

	if _, err := env.svc.UpdateStatus(ctx, a.ID, "archived"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("UpdateStatus() unknown status error = %v, want validation", err)
	}
	if err := env.svc.Delete(ctx, a.ID); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Delete() scheduled error = %v, want validation", err)
	}

	// キャッシュさせてから取り消す
	_, _ = env.svc.GetAvailability(ctx, day(10), model.GlobalScope())
	cancelled, err := env.svc.UpdateStatus(ctx, a.ID, model.StatusCancelled)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("UpdateStatus() status = %v", cancelled.Status)
	}
	slots, _ := env.svc.GetAvailability(ctx, day(10), model.GlobalScope())
	if slot, _ := schedule.FindSlot(slots, "10:00"); !slot.Available {
		t.Error("cancelled reservation should free its slots")
	}
	last := env.publisher.events[len(env.publisher.events)-1]
	if last.Status != model.StatusCancelled {
		t.Errorf("last event status = %v, want cancelled", last.Status)
	}

	if err := env.svc.Delete(ctx, a.ID); err != nil {
		t.Errorf("Delete() cancelled error = %v", err)
	}
	if _, err := env.svc.GetReservation(ctx, a.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetReservation() after delete error = %v, want not found", err)
	}
}

func TestService_GetAvailabilityScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _ = env.svc.TryBook(ctx, candidate(10, "10:00", "11:00", "alice"))

	tests := []struct {
		name      string
		scope     model.Scope
		available bool
	}{
		{"全体", model.GlobalScope(), false},
		{"同じ担当者", model.AssigneeScope("alice"), false},
		{"別の担当者", model.AssigneeScope("bob"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots, err := env.svc.GetAvailability(ctx, day(10), tt.scope)
			if err != nil {
				t.Fatalf("GetAvailability() error = %v", err)
			}
			if slot, _ := schedule.FindSlot(slots, "10:00"); slot.Available != tt.available {
				t.Errorf("10:00 available = %v, want %v", slot.Available, tt.available)
			}
		})
	}

	past, err := env.svc.GetAvailability(ctx, day(1).AddDate(0, 0, -1), model.GlobalScope())
	if err != nil {
		t.Fatalf("GetAvailability() past error = %v", err)
	}
	if schedule.HasAvailable(past) {
		t.Error("past date should have no available slots")
	}
}

func TestService_GetMonthView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.svc.TryBook(ctx, candidate(10, "10:00", "11:00", ""))
	_, _ = env.svc.TryBook(ctx, candidate(10, "09:00", "09:30", ""))
	_, _ = env.svc.UpdateStatus(ctx, a.ID, model.StatusCompleted)

	tests := []struct {
		name           string
		includeHistory bool
		want           int
	}{
		{"scheduledのみ", false, 1},
		{"履歴を含む", true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells, err := env.svc.GetMonthView(ctx, 2024, time.June, model.GlobalScope(), ViewOptions{IncludeHistory: tt.includeHistory})
			if err != nil {
				t.Fatalf("GetMonthView() error = %v", err)
			}
			if len(cells)%7 != 0 {
				t.Errorf("GetMonthView() returned %d cells", len(cells))
			}
			for _, c := range cells {
				if c.Date.Equal(day(10)) && len(c.Reservations) != tt.want {
					t.Errorf("2024-06-10 has %d reservations, want %d", len(c.Reservations), tt.want)
				}
			}
		})
	}

	if _, err := env.svc.GetMonthView(ctx, 2024, 13, model.GlobalScope(), ViewOptions{}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("GetMonthView() month 13 error = %v, want validation", err)
	}

	week, err := env.svc.GetView(ctx, schedule.WeekView(day(12)), model.GlobalScope(), ViewOptions{})
	if err != nil || len(week) != 7 {
		t.Errorf("GetView(week) = %d cells, %v", len(week), err)
	}
}
