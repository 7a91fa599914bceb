// Package locks serializes concurrent ticks on the same run with Postgres
// advisory locks. The lock lives on a dedicated database session, so a
// process that crashes mid-tick frees the lock implicitly when its session
// dies; nothing can permanently wedge a run.
package locks

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/daybrief-backend/internal/logger"
)

// Manager hands out non-blocking, named advisory locks. A busy lock is a
// normal outcome, not an error: the caller gets ok=false and must not
// proceed (and must not queue or retry internally).
type Manager interface {
	TryAcquire(ctx context.Context, key string) (Handle, bool, error)
	Close()
}

type Handle interface {
	Release(ctx context.Context)
}

// RunKey scopes a lock to a single run.
func RunKey(runID uuid.UUID) string {
	return "run:" + runID.String()
}

// Key64 folds a lock name into the signed 64-bit keyspace Postgres advisory
// locks use.
func Key64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

type pgManager struct {
	dsn string
	log *logger.Logger

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// NewManager returns a Manager backed by its own pgx pool. The pool is
// created on first acquire, not at construction, and drained by Close.
func NewManager(dsn string, baseLog *logger.Logger) Manager {
	return &pgManager{
		dsn: dsn,
		log: baseLog.With("service", "LockManager"),
	}
}

func (m *pgManager) acquirePool(ctx context.Context) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("lock manager closed")
	}
	if m.pool != nil {
		return m.pool, nil
	}
	cfg, err := pgxpool.ParseConfig(m.dsn)
	if err != nil {
		return nil, fmt.Errorf("parse lock pool config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create lock pool: %w", err)
	}
	m.pool = pool
	m.log.Debug("Lock pool initialized")
	return pool, nil
}

func (m *pgManager) TryAcquire(ctx context.Context, key string) (Handle, bool, error) {
	pool, err := m.acquirePool(ctx)
	if err != nil {
		return nil, false, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock session: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", Key64(key)).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		m.log.Debug("Lock busy", "key", key)
		return nil, false, nil
	}
	return &pgHandle{conn: conn, key: key, log: m.log}, true, nil
}

// Close drains the pool. In-flight holders finish and release their
// sessions; new acquisitions are rejected. Safe to call once at shutdown.
func (m *pgManager) Close() {
	m.mu.Lock()
	pool := m.pool
	m.pool = nil
	m.closed = true
	m.mu.Unlock()
	if pool != nil {
		pool.Close()
		m.log.Debug("Lock pool drained")
	}
}

type pgHandle struct {
	conn *pgxpool.Conn
	key  string
	log  *logger.Logger

	once sync.Once
}

func (h *pgHandle) Release(ctx context.Context) {
	h.once.Do(func() {
		if _, err := h.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", Key64(h.key)); err != nil {
			// The unlock failed but the session is going back to the pool;
			// when the session eventually closes the lock goes with it.
			h.log.Warn("Advisory unlock failed", "key", h.key, "error", err)
		}
		h.conn.Release()
	})
}
