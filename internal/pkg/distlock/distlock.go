// Package distlock provides short-lived leases used to keep two workers from
// dispatching the same campaign at once.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a single lease. An instance is owned by one goroutine;
// concurrent holders need separate instances for the same key.
type DistLock interface {
	// Acquire tries to take the lease without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease back if we still own it.
	Release(ctx context.Context) error
}

// Factory hands out leases keyed by name.
type Factory struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
	local *LocalLocks
}

// NewFactory picks the best available backend: Redis when a client is
// given, else PostgreSQL advisory locks, else an in-process lease table.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Factory {
	f := &Factory{redis: redisClient, db: db, ttl: ttl}
	if redisClient == nil && db == nil {
		f.local = NewLocalLocks()
	}
	return f
}

// For returns a lease for key.
func (f *Factory) For(key string) DistLock {
	switch {
	case f.redis != nil:
		return NewRedisLock(f.redis, key, f.ttl)
	case f.db != nil:
		return NewPGAdvisoryLock(f.db, key)
	default:
		return f.local.For(key)
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// session, so the lock pins one pooled connection from Acquire until
// Release; the lock drops with the connection if the process dies.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives the lock id from an FNV-64a hash of key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d already held by this instance", l.lockID)
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	return nil
}

// LocalLocks is an in-process lease table for single-instance deployments.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]struct{})}
}

// For returns a lease on key backed by the table.
func (t *LocalLocks) For(key string) DistLock {
	return &localLock{table: t, key: key}
}

type localLock struct {
	table *LocalLocks
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if _, taken := l.table.held[l.key]; taken {
		return false, nil
	}
	l.table.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.owned {
		delete(l.table.held, l.key)
		l.owned = false
	}
	return nil
}
