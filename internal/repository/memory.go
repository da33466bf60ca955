package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
)

// MemoryReservationRepository はプロセス内で予約を保持するReservationRepositoryです
// ENV=LOCALでの起動とテストで使用します。確認と登録は同一のロック内で行います
type MemoryReservationRepository struct {
	mu    sync.RWMutex
	items map[string]model.Reservation
	loc   *time.Location
}

func NewMemoryReservationRepository(loc *time.Location) *MemoryReservationRepository {
	return &MemoryReservationRepository{
		items: make(map[string]model.Reservation),
		loc:   loc,
	}
}

func (m *MemoryReservationRepository) sorted(filter func(model.Reservation) bool) []model.Reservation {
	var out []model.Reservation
	for _, r := range m.items {
		if filter(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return out
}

// sameDate は重複判定の対象となる同日の予約を返します
func (m *MemoryReservationRepository) sameDate(date time.Time) []model.Reservation {
	return m.sorted(func(r model.Reservation) bool {
		return schedule.SameDay(r.Date, date, m.loc)
	})
}

func (m *MemoryReservationRepository) checkConflict(r model.Reservation) error {
	conflict, err := schedule.CheckConflict(r, m.sameDate(r.Date), m.loc)
	if err != nil {
		return err
	}
	if conflict != nil {
		return conflict.AsError()
	}
	return nil
}

func (m *MemoryReservationRepository) ListReservations(ctx context.Context, from, to time.Time, scope model.Scope) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	first, last := schedule.DateOf(from, m.loc), schedule.DateOf(to, m.loc)
	return m.sorted(func(r model.Reservation) bool {
		d := schedule.DateOf(r.Date, m.loc)
		return !d.Before(first) && !d.After(last) && scope.Covers(r)
	}), nil
}

func (m *MemoryReservationRepository) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.items[id]
	if !ok {
		return nil, &model.NotFoundError{ID: id}
	}
	return &r, nil
}

func (m *MemoryReservationRepository) CommitReservation(ctx context.Context, r model.Reservation) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.items[r.ID]; exists {
		return nil, fmt.Errorf("reservation %s already exists", r.ID)
	}
	r.Date = schedule.DateOf(r.Date, m.loc)
	r.Status = model.StatusScheduled
	if err := m.checkConflict(r); err != nil {
		return nil, err
	}

	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	m.items[r.ID] = r
	return &r, nil
}

func (m *MemoryReservationRepository) Reschedule(ctx context.Context, id string, date time.Time, start, end string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return nil, &model.NotFoundError{ID: id}
	}
	if !r.IsScheduled() {
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("cannot reschedule a %s reservation", r.Status)}
	}
	r.Date = schedule.DateOf(date, m.loc)
	r.StartTime, r.EndTime = start, end
	if err := m.checkConflict(r); err != nil {
		return nil, err
	}

	r.UpdatedAt = time.Now()
	m.items[id] = r
	return &r, nil
}

func (m *MemoryReservationRepository) UpdateStatus(ctx context.Context, id string, status model.ReservationStatus) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return nil, &model.NotFoundError{ID: id}
	}
	if status == model.StatusScheduled && !r.IsScheduled() {
		r.Status = status
		if err := m.checkConflict(r); err != nil {
			return nil, err
		}
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	m.items[id] = r
	return &r, nil
}

func (m *MemoryReservationRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return &model.NotFoundError{ID: id}
	}
	if r.IsScheduled() {
		return &model.ValidationError{Field: "status", Message: "scheduled reservation must be cancelled before deletion"}
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryReservationRepository) ListScheduledBefore(ctx context.Context, date time.Time) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := schedule.DateOf(date, m.loc)
	return m.sorted(func(r model.Reservation) bool {
		return r.IsScheduled() && schedule.DateOf(r.Date, m.loc).Before(limit)
	}), nil
}
