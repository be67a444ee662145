// Package lock provides database advisory locks that keep two loads of the
// same job from running at the same time.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dbsmedya/esload/internal/config"
)

var (
	// ErrLockHeld is returned when another session holds the lock.
	ErrLockHeld = errors.New("lock is held by another session")
	// ErrUnsupported is returned for drivers without advisory locks.
	ErrUnsupported = errors.New("advisory locks are not supported by this driver")
)

type dialect struct {
	acquire string
	release string
	// acquired interprets the single value returned by acquire.
	acquired func(v sql.NullInt64) (bool, error)
}

var dialects = map[string]dialect{
	config.DriverMySQL: {
		acquire:  "SELECT GET_LOCK(?, 0)",
		release:  "SELECT RELEASE_LOCK(?)",
		acquired: mysqlAcquired,
	},
	config.DriverPostgres: postgresDialect,
	config.DriverPgx:      postgresDialect,
	config.DriverSQLServer: {
		acquire: "DECLARE @r int; EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', " +
			"@LockOwner = 'Session', @LockTimeout = 0; SELECT @r",
		release:  "EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'",
		acquired: func(v sql.NullInt64) (bool, error) { return v.Valid && v.Int64 >= 0, nil },
	},
}

var postgresDialect = dialect{
	acquire:  "SELECT CASE WHEN pg_try_advisory_lock(hashtext($1)) THEN 1 ELSE 0 END",
	release:  "SELECT pg_advisory_unlock(hashtext($1))",
	acquired: func(v sql.NullInt64) (bool, error) { return v.Valid && v.Int64 == 1, nil },
}

// GET_LOCK returns 1 on success, 0 on timeout and NULL on error.
func mysqlAcquired(v sql.NullInt64) (bool, error) {
	if !v.Valid {
		return false, errors.New("GET_LOCK returned NULL")
	}
	switch v.Int64 {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", v.Int64)
	}
}

// Supported reports whether driver has advisory locks.
func Supported(driver string) bool {
	_, ok := dialects[driver]
	return ok
}

// AdvisoryLock is a named session-level lock. Session locks belong to one
// connection, so the lock pins a connection from the pool while held.
type AdvisoryLock struct {
	db      *sql.DB
	dialect dialect
	driver  string
	name    string
	conn    *sql.Conn
}

// New creates an advisory lock; it is not acquired until TryAcquire.
func New(db *sql.DB, driver, name string) *AdvisoryLock {
	return &AdvisoryLock{
		db:      db,
		dialect: dialects[driver],
		driver:  driver,
		name:    name,
	}
}

// JobLockName returns the lock name for a job: "esload:job:<job>" with any
// character outside [A-Za-z0-9_-] replaced by an underscore.
func JobLockName(jobName string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, jobName)
	return "esload:job:" + sanitized
}

// NewJobLock creates the advisory lock guarding a job.
func NewJobLock(db *sql.DB, driver, jobName string) *AdvisoryLock {
	return New(db, driver, JobLockName(jobName))
}

// Name returns the lock name.
func (a *AdvisoryLock) Name() string { return a.name }

// IsHeld reports whether this instance holds the lock.
func (a *AdvisoryLock) IsHeld() bool { return a.conn != nil }

// TryAcquire attempts to take the lock without waiting.
func (a *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	if a.conn != nil {
		return true, nil
	}
	if !Supported(a.driver) {
		return false, fmt.Errorf("%w: %s", ErrUnsupported, a.driver)
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for lock %q: %w", a.name, err)
	}

	var v sql.NullInt64
	if err := conn.QueryRowContext(ctx, a.dialect.acquire, a.name).Scan(&v); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire lock %q: %w", a.name, err)
	}
	ok, err := a.dialect.acquired(v)
	if err != nil || !ok {
		conn.Close()
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock %q: %w", a.name, err)
		}
		return false, nil
	}
	a.conn = conn
	return true, nil
}

// AcquireOrFail takes the lock or returns ErrLockHeld.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context) error {
	ok, err := a.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrLockHeld, a.name)
	}
	return nil
}

// Release drops the lock and returns its connection to the pool. Releasing
// a lock that is not held is a no-op.
func (a *AdvisoryLock) Release(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	conn := a.conn
	a.conn = nil
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, a.dialect.release, a.name); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", a.name, err)
	}
	return nil
}
