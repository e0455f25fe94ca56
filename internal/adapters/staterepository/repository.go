package staterepository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/reporting"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Keys used by the session
const (
	KEY_CONFIG      = "config"
	KEY_ADJUSTMENTS = "adjustments"
	KEY_SPONSOR     = "sponsor"
)

type SQLStateRepository struct {
	db      *sqlx.DB
	schema  string
	nowFunc func() time.Time
}

// NewSQLStateRepository works on postgres and sqlite handles. The schema is only used for postgres.
func NewSQLStateRepository(db *sqlx.DB, schema string, nowFunc func() time.Time) *SQLStateRepository {
	return &SQLStateRepository{
		db:      db,
		schema:  schema,
		nowFunc: nowFunc,
	}
}

func (r *SQLStateRepository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	txx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	if r.db.DriverName() == "postgres" {
		_, err = txx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(r.schema)))
		if err != nil {
			_ = txx.Rollback()
			return nil, fmt.Errorf("failed to set search path: %w", err)
		}
	}

	return txx, nil
}

func (r *SQLStateRepository) GetState(ctx context.Context, key string) ([]byte, error) {
	txx, err := r.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, map[string]string{"key": key})
		return nil, err
	}
	defer txx.Rollback()

	var value string
	err = txx.GetContext(ctx, &value, txx.Rebind("SELECT value FROM widget_state WHERE key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateNotFound, key)
	}
	if err != nil {
		err := fmt.Errorf("failed to get state: %w", err)
		reporting.Report(ctx, err, map[string]string{"key": key})
		return nil, err
	}

	return []byte(value), nil
}

func (r *SQLStateRepository) StoreState(ctx context.Context, key string, value []byte) error {
	txx, err := r.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, map[string]string{"key": key})
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(
		ctx,
		txx.Rebind(`INSERT INTO widget_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key,
		string(value),
		r.nowFunc().UnixMilli(),
	)
	if err != nil {
		err := fmt.Errorf("failed to store state: %w", err)
		reporting.Report(ctx, err, map[string]string{"key": key})
		return err
	}

	if err := txx.Commit(); err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err, map[string]string{"key": key})
		return err
	}

	return nil
}

func (r *SQLStateRepository) DeleteState(ctx context.Context, key string) error {
	txx, err := r.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, map[string]string{"key": key})
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(ctx, txx.Rebind("DELETE FROM widget_state WHERE key = ?"), key)
	if err != nil {
		err := fmt.Errorf("failed to delete state: %w", err)
		reporting.Report(ctx, err, map[string]string{"key": key})
		return err
	}

	if err := txx.Commit(); err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err, map[string]string{"key": key})
		return err
	}

	return nil
}

var _ StateRepository = (*SQLStateRepository)(nil)
