package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/persistence"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var historyColumns = []string{"pool_id", "ts", "tvl_usd", "apy", "apy_base", "apy_reward", "il_7d", "source", "created_at"}

func TestHistoryRepo_InsertBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepo(db, time.Second)

	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	reward := 0.4
	points := []yield.HistoricalDataPoint{
		{Timestamp: t0, TVLUsd: 1e8, APY: 4.5, APYBase: 4.1, APYReward: &reward},
		{Timestamp: t0.Add(24 * time.Hour), TVLUsd: 1.1e8, APY: 4.7, APYBase: 4.7},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO pool_history"))
	prep.ExpectExec().
		WithArgs("pool-1", t0, 1e8, 4.5, 4.1, 0.4, nil, "defillama").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("pool-1", t0.Add(24*time.Hour), 1.1e8, 4.7, 4.7, nil, nil, "defillama").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := repo.InsertBatch(context.Background(), "pool-1", "defillama", points)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_InsertBatchRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO pool_history").
		ExpectExec().
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.InsertBatch(context.Background(), "pool-1", "defillama", []yield.HistoricalDataPoint{{Timestamp: time.Now(), APY: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_InsertBatchEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepo(db, time.Second)

	n, err := repo.InsertBatch(context.Background(), "pool-1", "defillama", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.InsertBatch(context.Background(), "", "defillama", []yield.HistoricalDataPoint{{APY: 1}})
	assert.Error(t, err)
}

func TestHistoryRepo_ListRange(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepo(db, time.Second)

	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tr := persistence.TimeRange{From: t0, To: t0.Add(48 * time.Hour)}

	rows := sqlmock.NewRows(historyColumns).
		AddRow("pool-1", t0, 1e8, 4.5, 4.1, 0.4, nil, "defillama", t0).
		AddRow("pool-1", t0.Add(24*time.Hour), 1.2e8, 5.0, 5.0, nil, nil, "defillama", t0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pool_history")).
		WithArgs("pool-1", tr.From, tr.To).
		WillReturnRows(rows)

	points, err := repo.ListRange(context.Background(), "pool-1", tr)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 4.5, points[0].APY)
	require.NotNil(t, points[0].APYReward)
	assert.Equal(t, 0.4, *points[0].APYReward)
	assert.Nil(t, points[1].APYReward)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_LatestAndCount(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ts DESC")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(historyColumns))

	rec, err := repo.Latest(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM pool_history")).
		WithArgs("pool-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := repo.Count(context.Background(), "pool-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS pool_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
