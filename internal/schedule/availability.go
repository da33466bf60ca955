package schedule

import (
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// Grid は空き状況を表示するコマの開始時刻の並びです
type Grid []string

// NewGrid はopenからcloseまでstepMinutes刻みのグリッドを作成します
// closeは含みません(09:00-18:00の30分刻みは18コマ)
func NewGrid(open, close string, stepMinutes int) (Grid, error) {
	if stepMinutes <= 0 {
		return nil, fmt.Errorf("slot step must be positive: %d", stepMinutes)
	}
	from, err := ToMinutes(open)
	if err != nil {
		return nil, err
	}
	to, err := ToMinutes(close)
	if err != nil {
		return nil, err
	}
	if to <= from {
		return nil, fmt.Errorf("grid close %s must be after open %s", close, open)
	}

	grid := make(Grid, 0, (to-from)/stepMinutes)
	for m := from; m < to; m += stepMinutes {
		grid = append(grid, FormatMinutes(m))
	}
	return grid, nil
}

// DefaultGrid は09:00から18:00までの30分刻みのグリッドです
func DefaultGrid() Grid {
	grid, _ := NewGrid("09:00", "18:00", 30)
	return grid
}

type interval struct {
	start, end int
	r          model.Reservation
}

// occupying は占有判定の対象となる予約を区間に変換します
// 形式不正の時刻を持つ予約はエラーになります
func occupying(date time.Time, reservations []model.Reservation, scope model.Scope) ([]interval, error) {
	loc := date.Location()
	out := make([]interval, 0, len(reservations))
	for _, r := range reservations {
		if !r.IsScheduled() || !SameDay(r.Date, date, loc) || !scope.Covers(r) {
			continue
		}
		start, err := ToMinutes(r.StartTime)
		if err != nil {
			return nil, fmt.Errorf("reservation %s start: %w", r.ID, err)
		}
		end, err := ToMinutes(r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("reservation %s end: %w", r.ID, err)
		}
		out = append(out, interval{start: start, end: end, r: r})
	}
	return out, nil
}

// ComputeAvailability はdateの各コマの空き状況をグリッド順に返します
// コマtは start <= t < end を満たすscheduled予約があれば埋まっています
// 過去日の場合は予約に関わらず全コマが埋まっています
func ComputeAvailability(date time.Time, reservations []model.Reservation, grid Grid, scope model.Scope, now time.Time) ([]model.SlotStatus, error) {
	slots := make([]model.SlotStatus, len(grid))

	if IsPast(date, now) {
		for i, t := range grid {
			slots[i] = model.SlotStatus{Time: t, Available: false}
		}
		return slots, nil
	}

	busy, err := occupying(date, reservations, scope)
	if err != nil {
		return nil, err
	}

	for i, t := range grid {
		m, err := ToMinutes(t)
		if err != nil {
			return nil, fmt.Errorf("grid slot %d: %w", i, err)
		}

		slot := model.SlotStatus{Time: t, Available: true}
		var holder *interval
		for j := range busy {
			b := &busy[j]
			if m < b.start || m >= b.end {
				continue
			}
			// 重複した予約が混入していても表示は決定的にする
			if holder == nil || b.start < holder.start || (b.start == holder.start && b.r.ID < holder.r.ID) {
				holder = b
			}
		}
		if holder != nil {
			slot.Available = false
			slot.ReservationID = holder.r.ID
			slot.Title = holder.r.Title
		}
		slots[i] = slot
	}
	return slots, nil
}

// HasAvailable はひとつでも空きコマがあるかを返します
func HasAvailable(slots []model.SlotStatus) bool {
	for _, s := range slots {
		if s.Available {
			return true
		}
	}
	return false
}

// FindSlot はグリッド上の時刻tの空き状況を返します
func FindSlot(slots []model.SlotStatus, t string) (model.SlotStatus, bool) {
	for _, s := range slots {
		if s.Time == t {
			return s, true
		}
	}
	return model.SlotStatus{}, false
}
