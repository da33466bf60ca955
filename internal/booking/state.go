package booking

import (
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// Step はワークフローの段階名です
type Step string

const (
	StepSelectingDate   Step = "selecting_date"
	StepSelectingTime   Step = "selecting_time"
	StepEnteringDetails Step = "entering_details"
	StepConfirmed       Step = "confirmed"
	StepFailed          Step = "failed"
)

// State はワークフローの状態のスナップショットです
// 段階ごとに保持する値が異なるため、型で区別します
type State interface {
	Step() Step
	isState()
}

// SelectingDate は日付選択中の状態です
type SelectingDate struct{}

// SelectingTime は日付が決まり、時刻を選択中の状態です
type SelectingTime struct {
	Date  time.Time
	Slots []model.SlotStatus
}

// EnteringDetails は日時が決まり、詳細を入力中の状態です
type EnteringDetails struct {
	Date  time.Time
	Slot  string
	Draft Draft
}

// Confirmed は予約が確定した終了状態です
type Confirmed struct {
	Reservation model.Reservation
}

// FailureCause は送信失敗の原因です
type FailureCause string

const (
	// CauseValidation は入力項目の不備です。項目の修正で回復できます
	CauseValidation FailureCause = "validation"
	// CauseConflict は時間帯の重複です。別の時刻の選択で回復できます
	CauseConflict FailureCause = "conflict"
	// CauseTimeout は永続化の時間切れです。そのまま再送できます
	CauseTimeout FailureCause = "timeout"
	// CauseUnknown はその他の失敗です
	CauseUnknown FailureCause = "unknown"
)

// Failed は送信に失敗した状態です。入力内容は保持されます
type Failed struct {
	Date   time.Time
	Slot   string
	Draft  Draft
	Cause  FailureCause
	Reason string
	Err    error
}

func (SelectingDate) Step() Step   { return StepSelectingDate }
func (SelectingTime) Step() Step   { return StepSelectingTime }
func (EnteringDetails) Step() Step { return StepEnteringDetails }
func (Confirmed) Step() Step       { return StepConfirmed }
func (Failed) Step() Step          { return StepFailed }

func (SelectingDate) isState()   {}
func (SelectingTime) isState()   {}
func (EnteringDetails) isState() {}
func (Confirmed) isState()       {}
func (Failed) isState()          {}

// Draft は詳細入力中の項目です
type Draft struct {
	Title       string
	Kind        model.Kind
	SubjectID   string
	AssigneeID  string
	Location    string
	Description string
}

// DraftField は詳細入力の項目名です
type DraftField string

const (
	FieldTitle       DraftField = "title"
	FieldKind        DraftField = "kind"
	FieldSubjectID   DraftField = "subject_id"
	FieldAssigneeID  DraftField = "assignee_id"
	FieldLocation    DraftField = "location"
	FieldDescription DraftField = "description"
)

// merge は空でない項目で上書きします
func (d Draft) merge(o Draft) Draft {
	if o.Title != "" {
		d.Title = o.Title
	}
	if o.Kind != "" {
		d.Kind = o.Kind
	}
	if o.SubjectID != "" {
		d.SubjectID = o.SubjectID
	}
	if o.AssigneeID != "" {
		d.AssigneeID = o.AssigneeID
	}
	if o.Location != "" {
		d.Location = o.Location
	}
	if o.Description != "" {
		d.Description = o.Description
	}
	return d
}

// clear は指定された項目を空にします
func (d Draft) clear(fields []DraftField) Draft {
	for _, f := range fields {
		switch f {
		case FieldTitle:
			d.Title = ""
		case FieldKind:
			d.Kind = ""
		case FieldSubjectID:
			d.SubjectID = ""
		case FieldAssigneeID:
			d.AssigneeID = ""
		case FieldLocation:
			d.Location = ""
		case FieldDescription:
			d.Description = ""
		}
	}
	return d
}

// Input はワークフローを進める入力です
type Input interface {
	isInput()
}

// SelectDate は日付を選択します
type SelectDate struct {
	Date time.Time
}

// SelectSlot はコマを選択します
type SelectSlot struct {
	Time string
}

// EditDetails は詳細項目を更新します
// Draftの空でない項目で上書きした後、Clearの項目を空にします
type EditDetails struct {
	Draft Draft
	Clear []DraftField
}

// Submit は入力内容で予約を送信します
type Submit struct{}

// Retry は失敗した送信から詳細入力に戻ります
type Retry struct{}

func (SelectDate) isInput()  {}
func (SelectSlot) isInput()  {}
func (EditDetails) isInput() {}
func (Submit) isInput()      {}
func (Retry) isInput()       {}
