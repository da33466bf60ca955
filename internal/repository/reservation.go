package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
)

// ReservationRepository は予約の永続化を担当するインターフェースです
// CommitReservation、Reschedule、UpdateStatusは重複禁止を自身で保証します
type ReservationRepository interface {
	// ListReservations はfromからtoまで(両端を含む)の日付の予約を全ステータス分返します
	ListReservations(ctx context.Context, from, to time.Time, scope model.Scope) ([]model.Reservation, error)
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	CommitReservation(ctx context.Context, r model.Reservation) (*model.Reservation, error)
	Reschedule(ctx context.Context, id string, date time.Time, start, end string) (*model.Reservation, error)
	UpdateStatus(ctx context.Context, id string, status model.ReservationStatus) (*model.Reservation, error)
	// Delete はscheduled以外の予約を物理削除します
	Delete(ctx context.Context, id string) error
	// ListScheduledBefore はdateより前の日付でscheduledのままの予約を返します
	ListScheduledBefore(ctx context.Context, date time.Time) ([]model.Reservation, error)
}

type ReservationRepositoryImpl struct {
	db  *DB
	loc *time.Location
}

func NewReservationRepository(db *DB, loc *time.Location) *ReservationRepositoryImpl {
	return &ReservationRepositoryImpl{db: db, loc: loc}
}

type reservationRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Date        time.Time `db:"date"`
	StartTime   string    `db:"start_time"`
	EndTime     string    `db:"end_time"`
	SubjectID   string    `db:"subject_id"`
	OwnerID     string    `db:"owner_id"`
	AssigneeID  string    `db:"assignee_id"`
	Kind        string    `db:"kind"`
	Status      string    `db:"status"`
	Location    string    `db:"location"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// toModel はDATE型をタイムゾーンの0時に正規化して変換します
func (row reservationRow) toModel(loc *time.Location) model.Reservation {
	y, m, d := row.Date.Date()
	return model.Reservation{
		ID:          row.ID,
		Title:       row.Title,
		Date:        time.Date(y, m, d, 0, 0, 0, 0, loc),
		StartTime:   row.StartTime,
		EndTime:     row.EndTime,
		SubjectID:   row.SubjectID,
		OwnerID:     row.OwnerID,
		AssigneeID:  row.AssigneeID,
		Kind:        model.Kind(row.Kind),
		Status:      model.ReservationStatus(row.Status),
		Location:    row.Location,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

const selectColumns = `
	id,
	title,
	date,
	start_time,
	end_time,
	COALESCE(subject_id, '') AS subject_id,
	owner_id,
	COALESCE(assignee_id, '') AS assignee_id,
	kind,
	status,
	location,
	description,
	created_at,
	updated_at`

// overlapQuery は同じ日付でscheduledかつ時間帯が重なる予約を1件返します
// 担当者なしの予約と候補はどの担当者とも競合します
const overlapQuery = `
	SELECT id, start_time, end_time
	FROM reservations
	WHERE date = $1::date
	AND status = 'scheduled'
	AND start_time < $3
	AND $2 < end_time
	AND ($4::text = '' OR assignee_id IS NULL OR assignee_id = $4)
	AND id <> $5
	ORDER BY start_time, id
	LIMIT 1`

func (r *ReservationRepositoryImpl) dateString(t time.Time) string {
	return schedule.DateOf(t, r.loc).Format(model.DateLayout)
}

func (r *ReservationRepositoryImpl) toModels(rows []reservationRow) []model.Reservation {
	reservations := make([]model.Reservation, 0, len(rows))
	for _, row := range rows {
		reservations = append(reservations, row.toModel(r.loc))
	}
	return reservations
}

// ListReservations は期間内の予約を取得します
func (r *ReservationRepositoryImpl) ListReservations(ctx context.Context, from, to time.Time, scope model.Scope) ([]model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.ListReservations")

	query := `SELECT ` + selectColumns + `
		FROM reservations
		WHERE date BETWEEN $1::date AND $2::date
		AND ($3::text = '' OR assignee_id IS NULL OR assignee_id = $3)
		ORDER BY date, start_time, id`

	var rows []reservationRow
	if err := r.db.SelectContext(ctx, &rows, query, r.dateString(from), r.dateString(to), scope.AssigneeID); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	done(nil)
	return r.toModels(rows), nil
}

// GetByID はIDで予約を取得します
func (r *ReservationRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.GetByID")

	var row reservationRow
	err := r.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		done(nil)
		return nil, &model.NotFoundError{ID: id}
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to get reservation %s: %w", id, err)
	}
	done(nil)
	res := row.toModel(r.loc)
	return &res, nil
}

// findOverlap はトランザクション内で重複する予約を検索します
func (r *ReservationRepositoryImpl) findOverlap(ctx context.Context, tx *sqlx.Tx, res model.Reservation) error {
	var hit struct {
		ID        string `db:"id"`
		StartTime string `db:"start_time"`
		EndTime   string `db:"end_time"`
	}
	err := tx.GetContext(ctx, &hit, overlapQuery,
		r.dateString(res.Date), res.StartTime, res.EndTime, res.AssigneeID, res.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check overlapping reservations: %w", err)
	}
	return &model.ConflictError{
		ReservationID: hit.ID,
		OverlapStart:  max(hit.StartTime, res.StartTime),
		OverlapEnd:    min(hit.EndTime, res.EndTime),
	}
}

// CommitReservation は重複がないことを確認して予約を登録します
// 確認と登録は同一のSERIALIZABLEトランザクションで行います
func (r *ReservationRepositoryImpl) CommitReservation(ctx context.Context, res model.Reservation) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.CommitReservation")

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	now := time.Now()
	res.CreatedAt, res.UpdatedAt = now, now
	res.Status = model.StatusScheduled

	query := `
		INSERT INTO reservations (
			id, title, date, start_time, end_time, subject_id, owner_id, assignee_id,
			kind, status, location, description, created_at, updated_at
		) VALUES (
			$1, $2, $3::date, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''),
			$9, $10, $11, $12, $13, $14
		)`

	err := r.db.InSerializableTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.findOverlap(ctx, tx, res); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query,
			res.ID, res.Title, r.dateString(res.Date), res.StartTime, res.EndTime, res.SubjectID,
			res.OwnerID, res.AssigneeID, string(res.Kind), string(res.Status), res.Location,
			res.Description, res.CreatedAt, res.UpdatedAt,
		)
		if isExclusionViolation(err) {
			return &model.ConflictError{OverlapStart: res.StartTime, OverlapEnd: res.EndTime}
		}
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}
	done(nil)
	return &res, nil
}

// Reschedule はscheduledの予約の日時を変更します。自身との重複は無視します
func (r *ReservationRepositoryImpl) Reschedule(ctx context.Context, id string, date time.Time, start, end string) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.Reschedule")

	var updated model.Reservation
	err := r.db.InSerializableTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.IsScheduled() {
			return &model.ValidationError{Field: "status", Message: fmt.Sprintf("cannot reschedule a %s reservation", current.Status)}
		}

		updated = *current
		updated.Date = schedule.DateOf(date, r.loc)
		updated.StartTime, updated.EndTime = start, end
		updated.UpdatedAt = time.Now()
		if err := r.findOverlap(ctx, tx, updated); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE reservations
			SET date = $1::date, start_time = $2, end_time = $3, updated_at = $4
			WHERE id = $5`,
			r.dateString(updated.Date), start, end, updated.UpdatedAt, id)
		if isExclusionViolation(err) {
			return &model.ConflictError{OverlapStart: start, OverlapEnd: end}
		}
		if err != nil {
			return fmt.Errorf("failed to update reservation schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}
	done(nil)
	return &updated, nil
}

// UpdateStatus は予約のステータスを更新します
// scheduledに戻す場合は重複の確認を行います
func (r *ReservationRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.ReservationStatus) (*model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.UpdateStatus")

	var updated model.Reservation
	err := r.db.InSerializableTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		updated = *current
		updated.Status = status
		updated.UpdatedAt = time.Now()
		if status == model.StatusScheduled && !current.IsScheduled() {
			if err := r.findOverlap(ctx, tx, updated); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE reservations
			SET status = $1,
				updated_at = $2
			WHERE id = $3`,
			string(status), updated.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("failed to update reservation status: %w", err)
		}
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}
	done(nil)
	return &updated, nil
}

// Delete はscheduled以外の予約を削除します
func (r *ReservationRepositoryImpl) Delete(ctx context.Context, id string) error {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.Delete")

	err := r.db.InSerializableTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.IsScheduled() {
			return &model.ValidationError{Field: "status", Message: "scheduled reservation must be cancelled before deletion"}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete reservation: %w", err)
		}
		return nil
	})
	done(err)
	return err
}

// ListScheduledBefore は確定処理の対象となる過去日の予約を取得します
func (r *ReservationRepositoryImpl) ListScheduledBefore(ctx context.Context, date time.Time) ([]model.Reservation, error) {
	ctx, done := utils.BeginSubsegment(ctx, "ReservationRepository.ListScheduledBefore")

	query := `SELECT ` + selectColumns + `
		FROM reservations
		WHERE status = 'scheduled'
		AND date < $1::date
		ORDER BY date, start_time, id`

	var rows []reservationRow
	if err := r.db.SelectContext(ctx, &rows, query, r.dateString(date)); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to query scheduled reservations: %w", err)
	}
	done(nil)
	return r.toModels(rows), nil
}

func (r *ReservationRepositoryImpl) getForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Reservation, error) {
	var row reservationRow
	err := tx.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation %s: %w", id, err)
	}
	res := row.toModel(r.loc)
	return &res, nil
}
