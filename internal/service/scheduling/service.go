package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/cache"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/event"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/repository"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
	"go.uber.org/zap"
)

// Options はServiceの動作設定です
type Options struct {
	Grid          schedule.Grid
	Location      *time.Location
	WeekStart     time.Weekday
	CommitTimeout time.Duration
}

// Service は空き状況の参照、予約の登録・変更、カレンダー表示を提供します
// 重複禁止は書き込み前の事前確認とリポジトリの原子的な登録の両方で判定します
type Service struct {
	repo          repository.ReservationRepository
	cache         cache.AvailabilityCache
	publisher     event.Publisher
	clock         schedule.Clock
	grid          schedule.Grid
	loc           *time.Location
	weekStart     time.Weekday
	commitTimeout time.Duration
	logger        *zap.Logger
}

// NewService は新しいServiceを作成します
// availabilityCacheとpublisherはnilでも構いません
func NewService(
	repo repository.ReservationRepository,
	availabilityCache cache.AvailabilityCache,
	publisher event.Publisher,
	clock schedule.Clock,
	opts Options,
	logger *zap.Logger,
) *Service {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if opts.Grid == nil {
		opts.Grid = schedule.DefaultGrid()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 5 * time.Second
	}
	return &Service{
		repo:          repo,
		cache:         availabilityCache,
		publisher:     publisher,
		clock:         clock,
		grid:          opts.Grid,
		loc:           opts.Location,
		weekStart:     opts.WeekStart,
		commitTimeout: opts.CommitTimeout,
		logger:        logger,
	}
}

// Location はサービスが日付の解釈に使うタイムゾーンです
func (s *Service) Location() *time.Location {
	return s.loc
}

// GetAvailability はdateのグリッド上の空き状況を返します
// 今日以降の日付はキャッシュを利用します
func (s *Service) GetAvailability(ctx context.Context, date time.Time, scope model.Scope) ([]model.SlotStatus, error) {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.GetAvailability")

	date = schedule.DateOf(date, s.loc)
	now := s.clock.Now()
	cacheable := s.cache != nil && !schedule.IsPast(date, now)

	var generation int64
	if cacheable {
		lookup, err := s.cache.Get(ctx, date, scope)
		if err != nil {
			s.logger.Warn("availability cache get failed", zap.Error(err))
			cacheable = false
		} else if lookup.Hit {
			done(nil)
			return lookup.Slots, nil
		}
		generation = lookup.Generation
	}

	slots, err := s.computeAvailability(ctx, date, scope, now)
	if err != nil {
		done(err)
		return nil, err
	}

	// 一覧取得の間に無効化された場合、この世代の値は読み出されない
	if cacheable {
		if err := s.cache.Set(ctx, date, scope, generation, slots); err != nil {
			s.logger.Warn("availability cache set failed", zap.Error(err))
		}
	}
	done(nil)
	return slots, nil
}

// GetFreshAvailability はキャッシュを使わずに空き状況を計算します
// 表示済みの一覧ではなく、その時点の予約で判定する必要がある場合に使います
func (s *Service) GetFreshAvailability(ctx context.Context, date time.Time, scope model.Scope) ([]model.SlotStatus, error) {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.GetFreshAvailability")

	slots, err := s.computeAvailability(ctx, schedule.DateOf(date, s.loc), scope, s.clock.Now())
	done(err)
	return slots, err
}

func (s *Service) computeAvailability(ctx context.Context, date time.Time, scope model.Scope, now time.Time) ([]model.SlotStatus, error) {
	reservations, err := s.repo.ListReservations(ctx, date, date, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return schedule.ComputeAvailability(date, reservations, s.grid, scope, now)
}

// TryBook は候補を検証し、重複がなければ予約として登録します
// 登録が時間内に完了しない場合は*model.PersistenceTimeoutErrorを返します。結果は不定のため再試行できます
func (s *Service) TryBook(ctx context.Context, candidate model.Candidate) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.TryBook")

	r, err := s.prepare(candidate)
	if err != nil {
		done(nil)
		return nil, err
	}

	if err := s.precheck(ctx, r); err != nil {
		done(nil)
		return nil, err
	}

	var saved *model.Reservation
	err = s.withCommitTimeout(ctx, "commit", func(ctx context.Context) error {
		res, err := s.repo.CommitReservation(ctx, r)
		if err != nil {
			return err
		}
		saved = res
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}

	s.invalidate(ctx, saved.Date)
	s.publish(ctx, *saved)
	s.logger.Info("reservation booked",
		zap.String("reservation_id", saved.ID),
		zap.String("date", saved.Date.Format(model.DateLayout)),
		zap.String("start_time", saved.StartTime),
		zap.String("end_time", saved.EndTime),
	)
	done(nil)
	return saved, nil
}

// Reschedule は予約を別の日時に変更します。endが空の場合は元の所要時間を維持します
func (s *Service) Reschedule(ctx context.Context, id string, date time.Time, start, end string) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.Reschedule")

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		done(nil)
		return nil, err
	}
	if !current.IsScheduled() {
		done(nil)
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("cannot reschedule a %s reservation", current.Status)}
	}

	if end == "" {
		end, err = keepDuration(*current, start)
		if err != nil {
			done(nil)
			return nil, err
		}
	}

	moved := *current
	moved.Date = schedule.DateOf(date, s.loc)
	moved.StartTime, moved.EndTime = start, end
	if err := s.validateTimes(moved); err != nil {
		done(nil)
		return nil, err
	}
	if err := s.precheck(ctx, moved); err != nil {
		done(nil)
		return nil, err
	}

	var saved *model.Reservation
	err = s.withCommitTimeout(ctx, "reschedule", func(ctx context.Context) error {
		res, err := s.repo.Reschedule(ctx, id, moved.Date, moved.StartTime, moved.EndTime)
		if err != nil {
			return err
		}
		saved = res
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}

	s.invalidate(ctx, current.Date)
	if !schedule.SameDay(current.Date, saved.Date, s.loc) {
		s.invalidate(ctx, saved.Date)
	}
	s.publish(ctx, *saved)
	done(nil)
	return saved, nil
}

// UpdateStatus は予約のステータスを変更します
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.ReservationStatus) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.UpdateStatus")

	if !status.Valid() {
		done(nil)
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	var saved *model.Reservation
	err := s.withCommitTimeout(ctx, "update_status", func(ctx context.Context) error {
		res, err := s.repo.UpdateStatus(ctx, id, status)
		if err != nil {
			return err
		}
		saved = res
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}

	s.invalidate(ctx, saved.Date)
	s.publish(ctx, *saved)
	done(nil)
	return saved, nil
}

// Delete はscheduled以外の予約を削除します
// scheduledの予約は先に取り消す必要があります
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.Delete")

	err := s.withCommitTimeout(ctx, "delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	})
	done(err)
	return err
}

// GetReservation はIDで予約を取得します
func (s *Service) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return s.repo.GetByID(ctx, id)
}

// ViewOptions はカレンダー表示の設定です
type ViewOptions struct {
	IncludeHistory bool
}

// GetMonthView は月表示のセルを返します
func (s *Service) GetMonthView(ctx context.Context, year int, month time.Month, scope model.Scope, opts ViewOptions) ([]model.DayCell, error) {
	if month < time.January || month > time.December {
		return nil, &model.ValidationError{Field: "month", Message: fmt.Sprintf("out of range: %d", month)}
	}
	return s.GetView(ctx, schedule.MonthView(year, month, s.loc), scope, opts)
}

// GetView は任意の表示範囲のセルを返します
func (s *Service) GetView(ctx context.Context, view schedule.ViewRange, scope model.Scope, opts ViewOptions) ([]model.DayCell, error) {
	ctx, done := utils.BeginSubsegment(ctx, "SchedulingService.GetView")

	view.Anchor = schedule.DateOf(view.Anchor, s.loc)
	first, last, err := view.Bounds(s.weekStart)
	if err != nil {
		done(nil)
		return nil, &model.ValidationError{Field: "view", Message: err.Error()}
	}

	reservations, err := s.repo.ListReservations(ctx, first, last, scope)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	cells, err := schedule.Project(view, reservations, schedule.ProjectOptions{
		IncludeHistory: opts.IncludeHistory,
		WeekStart:      s.weekStart,
	})
	done(err)
	return cells, err
}

// prepare は候補を検証し、終了時刻を補完した予約を返します
func (s *Service) prepare(c model.Candidate) (model.Reservation, error) {
	r := c.Reservation()
	if r.Title == "" {
		return r, &model.ValidationError{Field: "title", Message: "is required"}
	}
	if !r.Kind.Valid() {
		return r, &model.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return r, &model.ValidationError{Field: "owner_id", Message: "is required"}
	}
	if r.Date.IsZero() {
		return r, &model.ValidationError{Field: "date", Message: "is required"}
	}
	r.Date = schedule.DateOf(r.Date, s.loc)

	if r.EndTime == "" {
		minutes, _ := r.Kind.DefaultDuration()
		end, err := schedule.AddMinutes(r.StartTime, minutes)
		if err != nil {
			return r, err
		}
		r.EndTime = end
	}
	return r, s.validateTimes(r)
}

func (s *Service) validateTimes(r model.Reservation) error {
	if schedule.IsPast(r.Date, s.clock.Now()) {
		return &model.ValidationError{Field: "date", Message: "must not be in the past"}
	}
	start, err := schedule.ToMinutes(r.StartTime)
	if err != nil {
		return err
	}
	end, err := schedule.ToMinutes(r.EndTime)
	if err != nil {
		return err
	}
	if end <= start {
		return &model.ValidationError{Field: "end_time", Message: "must be after start_time"}
	}
	return nil
}

// precheck は書き込み前に同日の予約と重複しないかを確認します
// 最終的な判定はリポジトリの登録処理で行います
func (s *Service) precheck(ctx context.Context, r model.Reservation) error {
	existing, err := s.repo.ListReservations(ctx, r.Date, r.Date, model.AssigneeScope(r.AssigneeID))
	if err != nil {
		return fmt.Errorf("failed to list reservations: %w", err)
	}
	conflict, err := schedule.CheckConflict(r, existing, s.loc)
	if err != nil {
		return err
	}
	if conflict != nil {
		return conflict.AsError()
	}
	return nil
}

func (s *Service) withCommitTimeout(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := utils.RunWithTimeout(ctx, s.commitTimeout, fn)
	if errors.Is(err, utils.ErrTimeout) {
		s.logger.Warn("persistence timed out",
			zap.String("operation", operation),
			zap.Duration("timeout", s.commitTimeout),
		)
		return &model.PersistenceTimeoutError{Operation: operation, Timeout: s.commitTimeout, Err: err}
	}
	return err
}

func (s *Service) invalidate(ctx context.Context, date time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDate(ctx, schedule.DateOf(date, s.loc)); err != nil {
		s.logger.Warn("availability cache invalidation failed",
			zap.String("date", date.Format(model.DateLayout)),
			zap.Error(err),
		)
	}
}

// publish の失敗は予約結果に影響させない
func (s *Service) publish(ctx context.Context, r model.Reservation) {
	if err := s.publisher.Publish(ctx, model.NewReservationEvent(r, s.clock.Now())); err != nil {
		s.logger.Warn("failed to publish reservation event",
			zap.String("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}

func keepDuration(r model.Reservation, start string) (string, error) {
	from, err := schedule.ToMinutes(r.StartTime)
	if err != nil {
		return "", err
	}
	to, err := schedule.ToMinutes(r.EndTime)
	if err != nil {
		return "", err
	}
	return schedule.AddMinutes(start, to-from)
}
