package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrParse              = errors.New("parse error")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("time conflict")
	ErrNotFound           = errors.New("reservation not found")
	ErrPersistenceTimeout = errors.New("persistence timeout")
)

// ParseError は時刻・日付文字列の形式不正を表します
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid time %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ValidationError は入力項目の不備を表します。書き込み前に検出されます
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError は既存のscheduled予約との重複を表します
type ConflictError struct {
	ReservationID string
	OverlapStart  string
	OverlapEnd    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicts with reservation %s between %s and %s", e.ReservationID, e.OverlapStart, e.OverlapEnd)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError は指定IDの予約が存在しないことを表します
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceTimeoutError は永続化が制限時間内に完了しなかったことを表します
// 成功・失敗のどちらとも判断できないため、再試行可能として扱います
type PersistenceTimeoutError struct {
	Operation string
	Timeout   time.Duration
	Err       error
}

func (e *PersistenceTimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete within %v", e.Operation, e.Timeout)
}

func (e *PersistenceTimeoutError) Is(target error) bool { return target == ErrPersistenceTimeout }

func (e *PersistenceTimeoutError) Unwrap() error { return e.Err }
