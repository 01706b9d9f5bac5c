// Package distlock provides the short leases that keep two engine
// instances from advancing the same automation run. Redis is the
// preferred backend; Postgres advisory locks are the fallback when no
// Redis is configured.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a non-blocking, single-holder lease. A lock instance is
// owned by one goroutine; concurrent holders need separate instances.
type DistLock interface {
	// Acquire reports whether this instance now holds the lease.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up if this instance still owns it.
	Release(ctx context.Context) error
}

// NewLock picks the best available backend for a lease on key. Redis
// leases expire on their own after ttl, which covers a crashed holder.
// The advisory-lock fallback relies on the DB session dropping instead.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock leases via pg_try_advisory_lock. Session scoped: the
// lock drops with the connection, so a crashed holder never wedges a
// run forever.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives the numeric advisory-lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
