package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maiztros/pos/internal/domain/idempotency"
)

const (
	getKeySQL = `SELECT key, request_hash, COALESCE(order_id::text, ''), created_at, last_used_at
		FROM idempotency_keys WHERE key = $1`

	reserveKeySQL = `INSERT INTO idempotency_keys (key, request_hash, created_at, last_used_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING`

	linkKeySQL = `UPDATE idempotency_keys SET order_id = $2, last_used_at = now()
		WHERE key = $1 AND order_id IS NULL`

	touchKeySQL = `UPDATE idempotency_keys SET last_used_at = $2 WHERE key = $1`

	releaseKeySQL = `DELETE FROM idempotency_keys WHERE key = $1 AND order_id IS NULL`

	reclaimKeySQL = `UPDATE idempotency_keys SET created_at = $4, last_used_at = $4
		WHERE key = $1 AND request_hash = $2 AND order_id IS NULL AND created_at < $3`

	sweepAbandonedSQL = `DELETE FROM idempotency_keys WHERE order_id IS NULL AND created_at < $1`

	sweepExpiredSQL = `DELETE FROM idempotency_keys WHERE order_id IS NOT NULL AND last_used_at < $1`
)

var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyStore implements idempotency.Store backed by PostgreSQL. The
// primary key on idempotency_keys.key makes Reserve atomic.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore returns an IdempotencyStore that uses the given pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Get returns the record for key.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	rows, err := s.pool.Query(ctx, getKeySQL, key)
	if err != nil {
		return nil, fmt.Errorf("getting idempotency key: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[idempotency.Record])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, fmt.Errorf("getting idempotency key: %w", err)
	}
	return &rec, nil
}

// Reserve inserts an unlinked record unless the key exists.
func (s *IdempotencyStore) Reserve(ctx context.Context, rec idempotency.Record) (bool, error) {
	tag, err := s.pool.Exec(ctx, reserveKeySQL, rec.Key, rec.RequestHash, rec.CreatedAt, rec.LastUsedAt)
	if err != nil {
		return false, fmt.Errorf("reserving idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Link points an unlinked record at orderID.
func (s *IdempotencyStore) Link(ctx context.Context, key, orderID string) error {
	tag, err := s.pool.Exec(ctx, linkKeySQL, key, orderID)
	if err != nil {
		return fmt.Errorf("linking idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

// Touch updates last_used_at.
func (s *IdempotencyStore) Touch(ctx context.Context, key string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, touchKeySQL, key, at); err != nil {
		return fmt.Errorf("touching idempotency key: %w", err)
	}
	return nil
}

// Release deletes an unlinked record.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, releaseKeySQL, key); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// Reclaim re-arms an abandoned reservation. Concurrent reclaimers race on the
// row lock; only the first sees created_at < staleBefore.
func (s *IdempotencyStore) Reclaim(ctx context.Context, key, hash string, staleBefore, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, reclaimKeySQL, key, hash, staleBefore, now)
	if err != nil {
		return false, fmt.Errorf("reclaiming idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SweepAbandoned deletes unlinked reservations created before cutoff.
func (s *IdempotencyStore) SweepAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, sweepAbandonedSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping abandoned keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpired deletes linked records not replayed since cutoff.
func (s *IdempotencyStore) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, sweepExpiredSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
