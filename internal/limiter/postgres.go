package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the pool surface the limiter needs. *pgxpool.Pool implements
// it in production, pgxmock in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG tracks attempts in the login_attempts table, one row per
// (username, ip hash). Failures inside the window accumulate; hitting the
// threshold locks the pair out until locked_until.
type PG struct {
	db       querier
	window   time.Duration
	maxFails int
	lockFor  time.Duration
}

// NewPG wires the limiter to a Postgres pool.
func NewPG(db querier, window time.Duration, maxFails int, lockFor time.Duration) *PG {
	return &PG{db: db, window: window, maxFails: maxFails, lockFor: lockFor}
}

// HashIP hashes a client address so raw IPs never reach the database.
func HashIP(ip string) []byte {
	sum := sha256.Sum256([]byte(ip))
	return sum[:]
}

// Allow reports whether the pair may attempt a login and, when locked,
// how long until the lock lapses. A pair with no history is allowed.
func (l *PG) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT locked_until FROM login_attempts WHERE username = $1 AND ip_hash = $2`
	var lockedUntil time.Time
	err := l.db.QueryRow(ctx, q, username, ipHash).Scan(&lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("check login lock: %w", err)
	}
	if wait := time.Until(lockedUntil); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success clears the pair's failure history after a correct password.
func (l *PG) Success(ctx context.Context, username string, ipHash []byte) error {
	const q = `
INSERT INTO login_attempts (username, ip_hash, fails, locked_until, last_attempt_at)
VALUES ($1, $2, 0, 'epoch', now())
ON CONFLICT (username, ip_hash)
DO UPDATE SET fails = 0, locked_until = 'epoch', last_attempt_at = now()`
	if _, err := l.db.Exec(ctx, q, username, ipHash); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

// Failure bumps the pair's counter, restarting it when the previous
// attempt fell outside the window, and locks the pair at the threshold.
func (l *PG) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const bump = `
INSERT INTO login_attempts (username, ip_hash, fails, locked_until, last_attempt_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (username, ip_hash) DO UPDATE
SET fails = CASE WHEN now() - login_attempts.last_attempt_at > $3::interval
                 THEN 1 ELSE login_attempts.fails + 1 END,
    last_attempt_at = now()
RETURNING fails`
	var fails int
	if err := l.db.QueryRow(ctx, bump, username, ipHash, l.window).Scan(&fails); err != nil {
		return false, 0, fmt.Errorf("count login failure: %w", err)
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const lock = `UPDATE login_attempts SET locked_until = now() + $3::interval WHERE username = $1 AND ip_hash = $2`
	if _, err := l.db.Exec(ctx, lock, username, ipHash, l.lockFor); err != nil {
		return false, 0, fmt.Errorf("lock logins: %w", err)
	}
	return true, l.lockFor, nil
}
