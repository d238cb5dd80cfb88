package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/persistence"
)

// HistorySchema creates the archive table. Samples are immutable once written.
const HistorySchema = `
	CREATE TABLE IF NOT EXISTS pool_history (
		pool_id    TEXT             NOT NULL,
		ts         TIMESTAMPTZ      NOT NULL,
		tvl_usd    DOUBLE PRECISION NOT NULL,
		apy        DOUBLE PRECISION NOT NULL,
		apy_base   DOUBLE PRECISION NOT NULL DEFAULT 0,
		apy_reward DOUBLE PRECISION,
		il_7d      DOUBLE PRECISION,
		source     TEXT             NOT NULL,
		created_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
		PRIMARY KEY (pool_id, ts)
	)`

// historyRepo implements HistoryRepo for PostgreSQL
type historyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHistoryRepo creates a new PostgreSQL pool history repository
func NewHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.HistoryRepo {
	return &historyRepo{
		db:      db,
		timeout: timeout,
	}
}

// EnsureSchema applies HistorySchema.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, HistorySchema); err != nil {
		return fmt.Errorf("failed to create pool_history: %w", err)
	}
	return nil
}

// InsertBatch stores samples atomically, skipping ones already archived.
func (r *historyRepo) InsertBatch(ctx context.Context, poolID, source string, points []yield.HistoricalDataPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	if poolID == "" {
		return 0, fmt.Errorf("pool id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(points)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool_history (pool_id, ts, tvl_usd, apy, apy_base, apy_reward, il_7d, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pool_id, ts) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, p := range points {
		res, err := stmt.ExecContext(ctx,
			poolID, p.Timestamp.UTC(), p.TVLUsd, p.APY, p.APYBase, p.APYReward, p.IL7d, source)
		if err != nil {
			return 0, fmt.Errorf("failed to insert history sample: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history batch: %w", err)
	}
	return written, nil
}

// ListRange returns samples within tr, oldest first.
func (r *historyRepo) ListRange(ctx context.Context, poolID string, tr persistence.TimeRange) ([]yield.HistoricalDataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT pool_id, ts, tvl_usd, apy, apy_base, apy_reward, il_7d, source, created_at
		FROM pool_history
		WHERE pool_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`

	var records []persistence.HistoryRecord
	if err := r.db.SelectContext(ctx, &records, query, poolID, tr.From, tr.To); err != nil {
		return nil, fmt.Errorf("failed to query pool history: %w", err)
	}

	points := make([]yield.HistoricalDataPoint, 0, len(records))
	for _, rec := range records {
		points = append(points, rec.Point())
	}
	return points, nil
}

// Latest returns the newest sample, or nil when the pool has no history.
func (r *historyRepo) Latest(ctx context.Context, poolID string) (*persistence.HistoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT pool_id, ts, tvl_usd, apy, apy_base, apy_reward, il_7d, source, created_at
		FROM pool_history
		WHERE pool_id = $1
		ORDER BY ts DESC
		LIMIT 1`

	var rec persistence.HistoryRecord
	if err := r.db.GetContext(ctx, &rec, query, poolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest history sample: %w", err)
	}
	return &rec, nil
}

// Count returns the number of archived samples for poolID.
func (r *historyRepo) Count(ctx context.Context, poolID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pool_history WHERE pool_id = $1`, poolID); err != nil {
		return 0, fmt.Errorf("failed to count pool history: %w", err)
	}
	return n, nil
}
