package model

import (
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeReservation は予約確定の通知を表します
	NotificationTypeReservation NotificationType = "reservation"
	// NotificationTypeStatusChange は予約ステータス変更の通知を表します
	NotificationTypeStatusChange NotificationType = "status_change"
)

// Notification はイベントIFを受け取るための定義です
// アプリケーションサービス層で利用されます
type Notification struct {
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Event     ReservationEvent `json:"data"`
}

// NotificationRecord は通知のドメインモデルです
// データベースに永続化される通知レコードと今回は一致しています
type NotificationRecord struct {
	ID            int              `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"user_id"`
	ReservationID string           `db:"reservation_id" json:"reservation_id,omitempty"`
	Title         string           `db:"title" json:"title"`
	Message       string           `db:"message" json:"message"`
	IsRead        bool             `db:"is_read" json:"is_read"`
	Type          NotificationType `db:"type" json:"type"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// ToNotificationRecords は通知を宛先ごとの通知レコードに変換します
// 担当者が作成者と異なる場合は担当者にも通知します
func (n Notification) ToNotificationRecords() ([]NotificationRecord, error) {
	e := n.Event
	if e.OwnerID == "" {
		return nil, fmt.Errorf("notification for reservation %q has no owner", e.ReservationID)
	}

	var title, message string
	switch n.Type {
	case NotificationTypeReservation:
		title = "予約が確定しました"
		message = fmt.Sprintf(`予約が確定しました。
件名: %s
日時: %s %s-%s`, e.Title, e.Date, e.StartTime, e.EndTime)
	case NotificationTypeStatusChange:
		title = "予約の更新"
		message = fmt.Sprintf(`予約のステータスが更新されました。
件名: %s
日時: %s %s-%s
ステータス: %s`, e.Title, e.Date, e.StartTime, e.EndTime, e.Status)
	default:
		return nil, fmt.Errorf("unknown notification type: %s", n.Type)
	}

	recipients := []string{e.OwnerID}
	if e.AssigneeID != "" && e.AssigneeID != e.OwnerID {
		recipients = append(recipients, e.AssigneeID)
	}

	records := make([]NotificationRecord, 0, len(recipients))
	for _, userID := range recipients {
		records = append(records, NotificationRecord{
			UserID:        userID,
			ReservationID: e.ReservationID,
			Title:         title,
			Message:       message,
			IsRead:        false,
			Type:          n.Type,
			CreatedAt:     n.CreatedAt,
			UpdatedAt:     n.CreatedAt,
		})
	}
	return records, nil
}

// NewReservationNotification は予約イベントから通知を作成します
// scheduled以外のイベントはステータス変更の通知になります
func NewReservationNotification(event ReservationEvent) Notification {
	typ := NotificationTypeReservation
	if event.Status != StatusScheduled {
		typ = NotificationTypeStatusChange
	}
	return Notification{
		Type:      typ,
		CreatedAt: event.CreatedAt,
		Event:     event,
	}
}
