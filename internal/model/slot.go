package model

import "time"

// SlotStatus はグリッド上の1コマの空き状況です
// 埋まっている場合は占有している予約のIDとタイトルを保持します
type SlotStatus struct {
	Time          string `json:"time"`
	Available     bool   `json:"available"`
	ReservationID string `json:"reservation_id,omitempty"`
	Title         string `json:"title,omitempty"`
}

// DayCell はカレンダー表示の1日分のセルです
type DayCell struct {
	Date         time.Time     `json:"date"`
	Dimmed       bool          `json:"dimmed"`
	Reservations []Reservation `json:"reservations"`
}
