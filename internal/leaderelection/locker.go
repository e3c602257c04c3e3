package leaderelection

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// PostgresLocker uses pg_try_advisory_lock on a dedicated connection.
type PostgresLocker struct {
	db *sql.DB
}

func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) TryLock(ctx context.Context, key int64) (Lock, bool, error) {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "dedicated connection")
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, errors.Wrap(err, "advisory lock query")
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}
	return &postgresLock{conn: conn, key: key}, true, nil
}

type postgresLock struct {
	conn *sql.Conn
	key  int64
}

func (l *postgresLock) Ping(ctx context.Context) error {
	return l.conn.PingContext(ctx)
}

// Release unlocks explicitly, then returns the connection to the pool.
func (l *postgresLock) Release() error {
	_, err := l.conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
	if cerr := l.conn.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "release advisory lock")
}

// LocalLocker always grants the lock. It serves single-instance
// deployments that run without Postgres.
type LocalLocker struct{}

func (LocalLocker) TryLock(ctx context.Context, key int64) (Lock, bool, error) {
	return localLock{}, true, nil
}

type localLock struct{}

func (localLock) Ping(ctx context.Context) error { return nil }
func (localLock) Release() error                 { return nil }
