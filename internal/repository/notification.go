package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// NotificationRepository は通知の永続化を担当するインターフェースです
type NotificationRepository interface {
	CreateNotifications(ctx context.Context, records []model.NotificationRecord) error
	GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error)
	UpdateIsRead(ctx context.Context, id int, isRead bool) error
}

// NotificationRepositoryImpl は通知の永続化を担当します
type NotificationRepositoryImpl struct {
	db *DB
}

// NewNotificationRepository は新しいNotificationRepositoryを作成します
func NewNotificationRepository(db *DB) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{
		db: db,
	}
}

// CreateNotifications は複数の通知レコードを1トランザクションで作成します
func (r *NotificationRepositoryImpl) CreateNotifications(ctx context.Context, records []model.NotificationRecord) (err error) {
	ctx, done := utils.BeginSubsegment(ctx, "NotificationRepository.CreateNotifications")
	defer func() { done(err) }()

	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// エラーが発生した場合のみロールバックを実行
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
		}
	}()

	for i := range records {
		if err = r.create(ctx, tx, &records[i]); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *NotificationRepositoryImpl) create(ctx context.Context, tx *sqlx.Tx, record *model.NotificationRecord) error {
	query := `
		INSERT INTO notifications (
			user_id, reservation_id, title, message, is_read, type, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8
		)
		RETURNING id`

	return tx.QueryRowContext(ctx,
		query,
		record.UserID,
		record.ReservationID,
		record.Title,
		record.Message,
		record.IsRead,
		record.Type,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.ID)
}

// GetByUserID は指定されたユーザーIDの通知を新しい順に取得します
func (r *NotificationRepositoryImpl) GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	ctx, done := utils.BeginSubsegment(ctx, "NotificationRepository.GetByUserID")

	query := `
		SELECT id, user_id, COALESCE(reservation_id, '') AS reservation_id, title, message, is_read, type, created_at, updated_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	var records []model.NotificationRecord
	if err := r.db.SelectContext(ctx, &records, query, userID); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	done(nil)
	return records, nil
}

// UpdateIsRead は通知の既読状態を更新します
func (r *NotificationRepositoryImpl) UpdateIsRead(ctx context.Context, id int, isRead bool) error {
	ctx, done := utils.BeginSubsegment(ctx, "NotificationRepository.UpdateIsRead")

	query := `
		UPDATE notifications
		SET is_read = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, isRead, id)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to update notification is_read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		done(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		done(nil)
		return &model.NotFoundError{ID: fmt.Sprint(id)}
	}
	done(nil)
	return nil
}

// MemoryNotificationRepository はプロセス内で通知を保持します
type MemoryNotificationRepository struct {
	mu      sync.Mutex
	nextID  int
	records map[int]model.NotificationRecord
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{records: make(map[int]model.NotificationRecord)}
}

func (m *MemoryNotificationRepository) CreateNotifications(ctx context.Context, records []model.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range records {
		m.nextID++
		records[i].ID = m.nextID
		m.records[m.nextID] = records[i]
	}
	return nil
}

func (m *MemoryNotificationRepository) GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.NotificationRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryNotificationRepository) UpdateIsRead(ctx context.Context, id int, isRead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return &model.NotFoundError{ID: fmt.Sprint(id)}
	}
	rec.IsRead = isRead
	m.records[id] = rec
	return nil
}
