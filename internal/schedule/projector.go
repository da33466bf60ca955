package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// ViewKind はカレンダー表示の種類です
type ViewKind string

const (
	ViewMonth ViewKind = "month"
	ViewWeek  ViewKind = "week"
	ViewDay   ViewKind = "day"
)

// ViewRange はカレンダー表示の対象範囲です
// 月表示ではAnchorはその月の1日、週・日表示では対象日です
type ViewRange struct {
	Kind   ViewKind
	Anchor time.Time
}

// MonthView は指定年月の月表示を返します
func MonthView(year int, month time.Month, loc *time.Location) ViewRange {
	if loc == nil {
		loc = time.Local
	}
	return ViewRange{Kind: ViewMonth, Anchor: time.Date(year, month, 1, 0, 0, 0, 0, loc)}
}

// WeekView はdateを含む週の表示を返します
func WeekView(date time.Time) ViewRange {
	return ViewRange{Kind: ViewWeek, Anchor: DateOf(date, nil)}
}

// DayView はdateの1日表示を返します
func DayView(date time.Time) ViewRange {
	return ViewRange{Kind: ViewDay, Anchor: DateOf(date, nil)}
}

// ProjectOptions はカレンダー投影の設定です
type ProjectOptions struct {
	// IncludeHistory がtrueの場合はscheduled以外の予約も表示します
	IncludeHistory bool
	// WeekStart は週の開始曜日です。既定は日曜日です
	WeekStart time.Weekday
}

func startOfWeek(d time.Time, weekStart time.Weekday) time.Time {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// Bounds は表示範囲の最初と最後の日付(どちらも含む)を返します
// 月表示では月初と月末を含む週全体になります
func (v ViewRange) Bounds(weekStart time.Weekday) (time.Time, time.Time, error) {
	anchor := DateOf(v.Anchor, nil)
	switch v.Kind {
	case ViewDay:
		return anchor, anchor, nil
	case ViewWeek:
		first := startOfWeek(anchor, weekStart)
		return first, first.AddDate(0, 0, 6), nil
	case ViewMonth:
		monthStart := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
		monthEnd := monthStart.AddDate(0, 1, -1)
		first := startOfWeek(monthStart, weekStart)
		last := startOfWeek(monthEnd, weekStart).AddDate(0, 0, 6)
		return first, last, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown view kind: %q", v.Kind)
}

// Project は予約の集合を表示範囲の日ごとのセルに投影します
// 競合判定は行わず、重複した予約もそのまま表示します
func Project(view ViewRange, reservations []model.Reservation, opts ProjectOptions) ([]model.DayCell, error) {
	first, last, err := view.Bounds(opts.WeekStart)
	if err != nil {
		return nil, err
	}
	loc := first.Location()

	byDay := make(map[string][]model.Reservation)
	for _, r := range reservations {
		if !opts.IncludeHistory && !r.IsScheduled() {
			continue
		}
		key := r.Date.In(loc).Format(model.DateLayout)
		byDay[key] = append(byDay[key], r)
	}

	var cells []model.DayCell
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		items := byDay[d.Format(model.DateLayout)]
		sorted := make([]model.Reservation, len(items))
		copy(sorted, items)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].StartTime != sorted[j].StartTime {
				return sorted[i].StartTime < sorted[j].StartTime
			}
			return sorted[i].ID < sorted[j].ID
		})

		cells = append(cells, model.DayCell{
			Date:         d,
			Dimmed:       view.Kind == ViewMonth && d.Month() != view.Anchor.In(loc).Month(),
			Reservations: sorted,
		})
	}
	return cells, nil
}
