package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/database"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/utils"
)

// serializationRetries はシリアライズ失敗時の最大試行回数です
const serializationRetries = 3

// DB はリポジトリが利用するX-Rayトレース付きの接続です
type DB struct {
	*sqlx.DB
}

// NewDB は共通の接続をリポジトリ用にラップします
func NewDB(conn *database.DB) *DB {
	return &DB{DB: conn.DB}
}

// BeginSerializableTx はSERIALIZABLE分離レベルのトランザクションを開始します
func (db *DB) BeginSerializableTx(ctx context.Context) (*sqlx.Tx, error) {
	ctx, done := utils.BeginSubsegment(ctx, "DB.BeginSerializableTx")
	tx, err := db.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	done(err)
	return tx, err
}

// InSerializableTx はfnをSERIALIZABLEトランザクション内で実行し、コミットします
// シリアライズ失敗(40001)の場合は上限回数まで再実行します
func (db *DB) InSerializableTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= serializationRetries; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		log.Printf("Serialization failure (attempt %d/%d): %v", attempt, serializationRetries, err)
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginSerializableTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// エラーが発生した場合のみロールバックを実行
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Printf("rollback failed: %v, original error: %v", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SelectContext wraps sqlx.DB.SelectContext with X-Ray tracing
func (db *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, done := utils.BeginSubsegment(ctx, "DB.Select")
	// クエリをメタデータとして追加
	utils.AddMetadata(ctx, "query", query)

	err := db.DB.SelectContext(ctx, dest, query, args...)
	done(err)
	return err
}

// GetContext wraps sqlx.DB.GetContext with X-Ray tracing
func (db *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, done := utils.BeginSubsegment(ctx, "DB.Get")
	utils.AddMetadata(ctx, "query", query)

	err := db.DB.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		done(nil)
		return err
	}
	done(err)
	return err
}

// ExecContext wraps sqlx.DB.ExecContext with X-Ray tracing
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, done := utils.BeginSubsegment(ctx, "DB.Exec")
	utils.AddMetadata(ctx, "query", query)

	result, err := db.DB.ExecContext(ctx, query, args...)
	done(err)
	return result, err
}

func isSerializationFailure(err error) bool {
	return hasPQCode(err, "40001")
}

// isExclusionViolation は排他制約(23P01)違反かどうかを返します
func isExclusionViolation(err error) bool {
	return hasPQCode(err, "23P01")
}

func hasPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
