package schedule

import (
	"fmt"
	"strconv"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

const minutesPerDay = 24 * 60

// Clock は現在時刻を返します
type Clock interface {
	Now() time.Time
}

// SystemClock はシステム時刻を指定のタイムゾーンで返します
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// ToMinutes は"HH:MM"形式の時刻を0時からの経過分に変換します
func ToMinutes(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, &model.ParseError{Input: s, Reason: "expected HH:MM"}
	}
	h, err := parseDigits(s[:2])
	if err != nil {
		return 0, &model.ParseError{Input: s, Reason: "hour is not numeric"}
	}
	m, err := parseDigits(s[3:])
	if err != nil {
		return 0, &model.ParseError{Input: s, Reason: "minute is not numeric"}
	}
	if h >= 24 {
		return 0, &model.ParseError{Input: s, Reason: "hour out of range"}
	}
	if m >= 60 {
		return 0, &model.ParseError{Input: s, Reason: "minute out of range"}
	}
	return h*60 + m, nil
}

// strconv.Atoiは符号を受け付けるため、数字のみを先に確認する
func parseDigits(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit %q", s[i])
		}
	}
	return strconv.Atoi(s)
}

// FormatMinutes は0時からの経過分を"HH:MM"に変換します。24時間で折り返します
func FormatMinutes(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// AddMinutes は時刻に分を加算します。24時間で折り返します
func AddMinutes(t string, minutes int) (string, error) {
	base, err := ToMinutes(t)
	if err != nil {
		return "", err
	}
	return FormatMinutes(base + minutes), nil
}

// DateOf は時刻をタイムゾーンlocの同日0時に切り詰めます
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate は"2006-01-02"形式の日付をlocの0時として解釈します
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(model.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, &model.ParseError{Input: s, Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// SameDay はlocにおける年月日が等しいかどうかを返します
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc != nil {
		a, b = a.In(loc), b.In(loc)
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsPast はdateが現在日の0時より前かどうかを返します
// 比較はnowのタイムゾーンで行います
func IsPast(date, now time.Time) bool {
	return DateOf(date, now.Location()).Before(DateOf(now, nil))
}
