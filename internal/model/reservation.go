package model

import (
	"strings"
	"time"
)

// ReservationStatus は予約のステータスを表します
type ReservationStatus string

const (
	StatusScheduled ReservationStatus = "scheduled"
	StatusCompleted ReservationStatus = "completed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusNoShow    ReservationStatus = "no_show"
)

// Valid は定義済みのステータスかどうかを返します
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Kind は予約の目的を表します。種類ごとに既定の所要時間を持ちます
type Kind string

const (
	KindMeeting  Kind = "meeting"
	KindCall     Kind = "call"
	KindReview   Kind = "review"
	KindFollowUp Kind = "follow_up"
)

var kindDurations = map[Kind]int{
	KindMeeting:  60,
	KindCall:     30,
	KindReview:   45,
	KindFollowUp: 15,
}

// DefaultDuration は種類ごとの既定の所要時間(分)を返します
func (k Kind) DefaultDuration() (int, bool) {
	d, ok := kindDurations[k]
	return d, ok
}

// Valid は定義済みの種類かどうかを返します
func (k Kind) Valid() bool {
	_, ok := kindDurations[k]
	return ok
}

// Reservation は予約情報を表す構造体です
// Dateは設定されたタイムゾーンの0時に正規化されています
type Reservation struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Date        time.Time         `json:"date"`
	StartTime   string            `json:"start_time"` // HH:MM
	EndTime     string            `json:"end_time"`   // HH:MM
	SubjectID   string            `json:"subject_id,omitempty"`
	OwnerID     string            `json:"owner_id"`
	AssigneeID  string            `json:"assignee_id,omitempty"`
	Kind        Kind              `json:"kind"`
	Status      ReservationStatus `json:"status"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsScheduled は競合判定と空き状況の対象となる予約かどうかを返します
func (r Reservation) IsScheduled() bool {
	return r.Status == StatusScheduled
}

// Candidate は永続化前の予約候補です
// EndTimeが空の場合はKindの既定の所要時間から算出されます
type Candidate struct {
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time,omitempty"`
	SubjectID   string    `json:"subject_id,omitempty"`
	OwnerID     string    `json:"owner_id"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	Kind        Kind      `json:"kind"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Reservation は候補をscheduledの予約に変換します。IDは採番されません
func (c Candidate) Reservation() Reservation {
	return Reservation{
		Title:       strings.TrimSpace(c.Title),
		Date:        c.Date,
		StartTime:   c.StartTime,
		EndTime:     c.EndTime,
		SubjectID:   c.SubjectID,
		OwnerID:     c.OwnerID,
		AssigneeID:  c.AssigneeID,
		Kind:        c.Kind,
		Status:      StatusScheduled,
		Location:    c.Location,
		Description: c.Description,
	}
}

// Scope は重複禁止を適用する区分です。AssigneeIDが空の場合は全体を表します
type Scope struct {
	AssigneeID string `json:"assignee_id,omitempty"`
}

// GlobalScope は担当者で絞り込まない区分を返します
func GlobalScope() Scope {
	return Scope{}
}

// AssigneeScope は担当者単位の区分を返します
func AssigneeScope(assigneeID string) Scope {
	return Scope{AssigneeID: assigneeID}
}

// IsGlobal は全体の区分かどうかを返します
func (s Scope) IsGlobal() bool {
	return s.AssigneeID == ""
}

// Covers は予約がこの区分のカレンダーを占有するかどうかを返します
// 担当者なしの予約は全ての区分を占有します
func (s Scope) Covers(r Reservation) bool {
	return s.IsGlobal() || r.AssigneeID == "" || r.AssigneeID == s.AssigneeID
}

// Key はキャッシュキーなどに使う区分の文字列表現です
func (s Scope) Key() string {
	if s.IsGlobal() {
		return "global"
	}
	return "assignee:" + s.AssigneeID
}

// ReservationEvent は予約の作成・更新時に発行されるイベントの構造体
type ReservationEvent struct {
	ReservationID string            `json:"reservation_id"`
	OwnerID       string            `json:"owner_id"`
	AssigneeID    string            `json:"assignee_id,omitempty"`
	Title         string            `json:"title"`
	Date          string            `json:"date"` // 2006-01-02
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewReservationEvent は予約からイベントを作成します
func NewReservationEvent(r Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ID,
		OwnerID:       r.OwnerID,
		AssigneeID:    r.AssigneeID,
		Title:         r.Title,
		Date:          r.Date.Format(DateLayout),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Status:        r.Status,
		CreatedAt:     at,
	}
}

// DateLayout は日付の文字列表現です
const DateLayout = "2006-01-02"
