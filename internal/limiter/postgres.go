package limiter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed limiter with a per-(actor, fn) sliding window.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxCalls int
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, window time.Duration, maxCalls int) *PG {
	return &PG{pool: pool, window: window, maxCalls: maxCalls}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, maxCalls int) *PG {
	return &PG{pool: q, window: window, maxCalls: maxCalls}
}

// Allow counts the call in a single upsert. A window older than the configured
// interval restarts at one; otherwise the counter increments in place.
func (l *PG) Allow(ctx context.Context, actorID, fn string) (bool, time.Duration, error) {
	const q = `
INSERT INTO maintenance_limiter (actor_id, fn, call_count, window_start)
VALUES ($1,$2,1,now())
ON CONFLICT (actor_id, fn) DO UPDATE
SET
  call_count   = CASE WHEN now() - maintenance_limiter.window_start > $3::interval THEN 1 ELSE maintenance_limiter.call_count + 1 END,
  window_start = CASE WHEN now() - maintenance_limiter.window_start > $3::interval THEN now() ELSE maintenance_limiter.window_start END
RETURNING call_count, window_start`
	var (
		count       int
		windowStart time.Time
	)
	if err := l.pool.QueryRow(ctx, q, actorID, fn, l.window).Scan(&count, &windowStart); err != nil {
		return false, 0, err
	}
	if count > l.maxCalls {
		retryAfter := time.Until(windowStart.Add(l.window))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}
