package lock

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowq/internal/testutil"
	"github.com/petrijr/flowq/pkg/api"
)

func TestPostgresLocker_AcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(hashtext\(\$1\)\)`).
		WithArgs("webhook-simulation:f1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(hashtext\(\$1\)\)`).
		WithArgs("webhook-simulation:f1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	l := NewPostgresLocker(db)
	lk, err := l.Acquire(context.Background(), "webhook-simulation:f1", time.Second)
	require.NoError(t, err)
	require.NoError(t, lk.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocker_RetriesUntilFree(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	l := NewPostgresLocker(db)
	_, err = l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocker_AcquireError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs("k").
		WillReturnError(sql.ErrConnDone)

	l := NewPostgresLocker(db)
	_, err = l.Acquire(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocker_ReleaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs("k").
		WillReturnError(assert.AnError)

	l := NewPostgresLocker(db)
	lk, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	err = lk.Release(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to release lock")
}

func TestPostgresLocker_Integration(t *testing.T) {
	db, err := sql.Open("pgx", testutil.GetPostgresDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := NewPostgresLocker(db)
	t.Run("mutual exclusion", func(t *testing.T) { testMutualExclusion(t, l) })
	t.Run("timeout", func(t *testing.T) { testTimeout(t, l) })

	_, err = l.Acquire(context.Background(), "never", 0)
	assert.ErrorIs(t, err, api.ErrLockTimeout)
}
