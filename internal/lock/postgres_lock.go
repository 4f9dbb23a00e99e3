package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

// PostgresLocker implements Locker with session-level advisory locks.
// Each held lock pins one pooled connection until Release.
type PostgresLocker struct {
	db    *sql.DB
	retry time.Duration
}

func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db, retry: 50 * time.Millisecond}
}

func (l *PostgresLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, api.ErrLockTimeout
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	for {
		var ok bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&ok)
		if err != nil {
			_ = conn.Close()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, api.ErrLockTimeout
			}
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return &postgresLock{conn: conn, key: key}, nil
		}

		select {
		case <-ctx.Done():
			_ = conn.Close()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, api.ErrLockTimeout
			}
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

type postgresLock struct {
	conn *sql.Conn
	key  string
}

func (p *postgresLock) Key() string { return p.key }

func (p *postgresLock) Release(ctx context.Context) error {
	defer p.conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := p.conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", p.key); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
