package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
)

var (
	ErrInvalidTransition = errors.New("input is not accepted in the current step")
	ErrDateInPast        = errors.New("date is in the past")
	ErrNoAvailableSlots  = errors.New("no available times on the selected date")
	ErrSlotUnavailable   = errors.New("selected time is no longer available")
)

// Booker はワークフローが利用する予約サービスです
// GetFreshAvailabilityはキャッシュを経由せず、呼び出し時点の予約で空き状況を計算します
type Booker interface {
	GetAvailability(ctx context.Context, date time.Time, scope model.Scope) ([]model.SlotStatus, error)
	GetFreshAvailability(ctx context.Context, date time.Time, scope model.Scope) ([]model.SlotStatus, error)
	TryBook(ctx context.Context, candidate model.Candidate) (*model.Reservation, error)
}

// Session は1回の対話的な予約操作です
// クライアントごとに生成し、完了・中断時に破棄します
type Session struct {
	mu      sync.Mutex
	id      string
	ownerID string
	scope   model.Scope
	booker  Booker
	clock   schedule.Clock
	state   State
}

// NewSession は日付選択から始まる新しいセッションを作成します
// scopeは空き状況の表示と、担当者未入力時の既定の担当者に使います
func NewSession(booker Booker, clock schedule.Clock, ownerID string, scope model.Scope) *Session {
	return &Session{
		id:      uuid.NewString(),
		ownerID: ownerID,
		scope:   scope,
		booker:  booker,
		clock:   clock,
		state:   SelectingDate{},
	}
}

// ID はセッションIDを返します。Resetで変わります
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State は現在の状態を返します
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset はセッションを破棄し、新しいセッションとして日付選択に戻ります
// IDと状態(入力中の項目を含む)は作り直されます
// 作成者、区分、予約サービス、時計はNewSessionで渡したものを引き継ぎます
func (s *Session) Reset() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.state = SelectingDate{}
	return s.state
}

// Retreat は一つ前の段階に戻ります。戻れない段階では現在の状態を返します
func (s *Session) Retreat() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case SelectingTime:
		s.state = SelectingDate{}
	case EnteringDetails:
		s.state = SelectingTime{Date: st.Date, Slots: nil}
	case Failed:
		s.state = EnteringDetails{Date: st.Date, Slot: st.Slot, Draft: st.Draft}
	}
	return s.state
}

// Refresh は時刻選択中の空き状況を取り直します
// Retreatで時刻選択に戻った直後はSlotsが空のため、表示前に呼び出します
func (s *Session) Refresh(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(SelectingTime)
	if !ok {
		return s.state, fmt.Errorf("%w: refresh in %s", ErrInvalidTransition, s.state.Step())
	}
	slots, err := s.booker.GetAvailability(ctx, st.Date, s.scope)
	if err != nil {
		return s.state, fmt.Errorf("failed to get availability: %w", err)
	}
	st.Slots = slots
	s.state = st
	return st, nil
}

// Advance は入力に応じて次の段階に進みます
// 遷移が拒否された場合は現在の状態とエラーを返します
func (s *Session) Advance(ctx context.Context, in Input) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.advance(ctx, in)
	if err != nil {
		return s.state, err
	}
	s.state = next
	return next, nil
}

func (s *Session) advance(ctx context.Context, in Input) (State, error) {
	switch st := s.state.(type) {
	case SelectingDate:
		if in, ok := in.(SelectDate); ok {
			return s.selectDate(ctx, in.Date)
		}
	case SelectingTime:
		if in, ok := in.(SelectSlot); ok {
			return s.selectSlot(ctx, st, in.Time)
		}
	case EnteringDetails:
		switch in := in.(type) {
		case EditDetails:
			st.Draft = st.Draft.merge(in.Draft).clear(in.Clear)
			return st, nil
		case Submit:
			return s.submit(ctx, st), nil
		}
	case Failed:
		if _, ok := in.(Retry); ok {
			return EnteringDetails{Date: st.Date, Slot: st.Slot, Draft: st.Draft}, nil
		}
	}
	return nil, fmt.Errorf("%w: %T in %s", ErrInvalidTransition, in, s.state.Step())
}

func (s *Session) selectDate(ctx context.Context, date time.Time) (State, error) {
	if schedule.IsPast(date, s.clock.Now()) {
		return nil, ErrDateInPast
	}
	slots, err := s.booker.GetAvailability(ctx, date, s.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	if !schedule.HasAvailable(slots) {
		return nil, ErrNoAvailableSlots
	}
	return SelectingTime{Date: date, Slots: slots}, nil
}

// selectSlot は表示済みの一覧やキャッシュではなく、選択時点の予約で判定する
func (s *Session) selectSlot(ctx context.Context, st SelectingTime, t string) (State, error) {
	if err := s.checkSlot(ctx, st.Date, t, s.scope); err != nil {
		return nil, err
	}
	return EnteringDetails{
		Date:  st.Date,
		Slot:  t,
		Draft: Draft{AssigneeID: s.scope.AssigneeID},
	}, nil
}

func (s *Session) submit(ctx context.Context, st EnteringDetails) State {
	failed := func(cause FailureCause, err error) State {
		return Failed{Date: st.Date, Slot: st.Slot, Draft: st.Draft, Cause: cause, Reason: reason(cause, err), Err: err}
	}

	if err := validateDraft(st.Draft); err != nil {
		return failed(CauseValidation, err)
	}

	// 選択時と異なる担当者に変更された場合は、その担当者の区分で空きを確認し直す
	if st.Draft.AssigneeID != s.scope.AssigneeID {
		err := s.checkSlot(ctx, st.Date, st.Slot, model.AssigneeScope(st.Draft.AssigneeID))
		if errors.Is(err, ErrSlotUnavailable) {
			return failed(CauseConflict, err)
		}
		if err != nil {
			return failed(CauseUnknown, err)
		}
	}

	reservation, err := s.booker.TryBook(ctx, model.Candidate{
		Title:       st.Draft.Title,
		Date:        st.Date,
		StartTime:   st.Slot,
		SubjectID:   st.Draft.SubjectID,
		OwnerID:     s.ownerID,
		AssigneeID:  st.Draft.AssigneeID,
		Kind:        st.Draft.Kind,
		Location:    st.Draft.Location,
		Description: st.Draft.Description,
	})
	switch {
	case err == nil:
		return Confirmed{Reservation: *reservation}
	case errors.Is(err, model.ErrConflict):
		return failed(CauseConflict, err)
	case errors.Is(err, model.ErrPersistenceTimeout):
		return failed(CauseTimeout, err)
	case errors.Is(err, model.ErrValidation):
		return failed(CauseValidation, err)
	default:
		return failed(CauseUnknown, err)
	}
}

func (s *Session) checkSlot(ctx context.Context, date time.Time, t string, scope model.Scope) error {
	slots, err := s.booker.GetFreshAvailability(ctx, date, scope)
	if err != nil {
		return fmt.Errorf("failed to get availability: %w", err)
	}
	slot, ok := schedule.FindSlot(slots, t)
	if !ok || !slot.Available {
		return ErrSlotUnavailable
	}
	return nil
}

func validateDraft(d Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &model.ValidationError{Field: "title", Message: "is required"}
	}
	if d.Kind == "" {
		return &model.ValidationError{Field: "kind", Message: "is required"}
	}
	if !d.Kind.Valid() {
		return &model.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	return nil
}

func reason(cause FailureCause, err error) string {
	switch cause {
	case CauseConflict:
		return "選択した時間はすでに予約されています。別の時間を選んでください"
	case CauseTimeout:
		return "予約の登録が時間内に完了しませんでした。もう一度お試しください"
	case CauseValidation:
		var v *model.ValidationError
		if errors.As(err, &v) {
			return fmt.Sprintf("入力内容を確認してください: %s %s", v.Field, v.Message)
		}
		return "入力内容を確認してください"
	}
	return "予約に失敗しました"
}
