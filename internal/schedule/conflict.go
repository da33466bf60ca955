package schedule

import (
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// Conflict は候補と重複する既存予約と、その重複区間です
type Conflict struct {
	ReservationID string
	OverlapStart  string
	OverlapEnd    string
}

// AsError は競合をConflictErrorに変換します
func (c *Conflict) AsError() *model.ConflictError {
	return &model.ConflictError{
		ReservationID: c.ReservationID,
		OverlapStart:  c.OverlapStart,
		OverlapEnd:    c.OverlapEnd,
	}
}

// Overlaps は半開区間[s1,e1)と[s2,e2)が重なるかを返します
func Overlaps(s1, e1, s2, e2 int) bool {
	return s1 < e2 && s2 < e1
}

// CheckConflict は候補が既存のscheduled予約と重複するかを判定します
// 重複がなければnilを返します
//
// 担当者ありの候補は同じ担当者と担当者なしの予約のみ、担当者なしの候補は
// 同日の全予約を対象とします。候補と同じIDの予約(変更前の自分自身)は除外します
func CheckConflict(candidate model.Reservation, existing []model.Reservation, loc *time.Location) (*Conflict, error) {
	cs, err := ToMinutes(candidate.StartTime)
	if err != nil {
		return nil, err
	}
	ce, err := ToMinutes(candidate.EndTime)
	if err != nil {
		return nil, err
	}
	if ce <= cs {
		return nil, &model.ValidationError{Field: "end_time", Message: "must be after start_time"}
	}

	scope := model.AssigneeScope(candidate.AssigneeID)

	var found *Conflict
	foundStart := 0
	for _, r := range existing {
		if !r.IsScheduled() {
			continue
		}
		if candidate.ID != "" && r.ID == candidate.ID {
			continue
		}
		if !SameDay(r.Date, candidate.Date, loc) || !scope.Covers(r) {
			continue
		}
		rs, err := ToMinutes(r.StartTime)
		if err != nil {
			return nil, fmt.Errorf("reservation %s start: %w", r.ID, err)
		}
		re, err := ToMinutes(r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("reservation %s end: %w", r.ID, err)
		}
		if !Overlaps(cs, ce, rs, re) {
			continue
		}
		if found == nil || rs < foundStart || (rs == foundStart && r.ID < found.ReservationID) {
			found = &Conflict{
				ReservationID: r.ID,
				OverlapStart:  FormatMinutes(max(cs, rs)),
				OverlapEnd:    FormatMinutes(min(ce, re)),
			}
			foundStart = rs
		}
	}
	return found, nil
}
