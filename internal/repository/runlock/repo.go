package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/dbpg"
)

// Repository implements the scheduler run-lock as a lease row in Postgres.
// A single INSERT ... ON CONFLICT DO UPDATE acquires the lock atomically, and
// the WHERE clause lets an expired lease be reclaimed, so a crashed run can
// never block future runs for good.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new run-lock repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Acquire attempts to take the lease named lockID for ttl. It returns true
// when the caller now holds the lock, false when another worker holds an
// unexpired lease. Timestamps are computed in Go so the statement stays free
// of interval arithmetic.
func (r *Repository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO scheduler_locks (id, worker_id, locked_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		  SET worker_id = EXCLUDED.worker_id,
		      locked_at = EXCLUDED.locked_at,
		      expires_at = EXCLUDED.expires_at
		  WHERE scheduler_locks.expires_at < $3;
    `

	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, query, lockID, workerID, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	rows, _ := res.RowsAffected()

	// One row affected means the insert landed or an expired lease was
	// reclaimed. Zero rows means another worker still holds it.
	return rows > 0, nil
}

// Release frees the lease, but only for the worker that holds it. Releasing
// a lock lost to expiry is a no-op rather than an error.
func (r *Repository) Release(ctx context.Context, lockID, workerID string) error {
	query := `
		DELETE FROM scheduler_locks
		WHERE id = $1 AND worker_id = $2;
    `

	if _, err := r.db.ExecContext(ctx, query, lockID, workerID); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}

	return nil
}
