package checkout

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrVariantNotFound = errors.New("variant not found")

// ReservationRepo is the durable ledger of active holds. All availability
// arithmetic happens inside the same transaction as the write it guards.
type ReservationRepo struct{ DB *pgxpool.Pool }

// txRetries bounds retries on serialization/deadlock aborts before the
// failure surfaces to the caller.
const txRetries = 3

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// availableLocked computes stock free for owner on one variant. The caller
// must already hold the variant row lock so the read cannot go stale before
// the write commits.
func availableLocked(ctx context.Context, tx pgx.Tx, variantID string, owner OwnerKey) (stock, available int, err error) {
	if err = tx.QueryRow(ctx, `SELECT stock FROM variants WHERE id=$1`, variantID).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrVariantNotFound
		}
		return 0, 0, err
	}
	var reserved int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE variant_id = $1 AND owner_key <> $2 AND expires_at > NOW()`,
		variantID, owner.String()).Scan(&reserved)
	if err != nil {
		return 0, 0, err
	}
	return stock, stock - reserved, nil
}

// Available is the read-only variant for display paths. It may be stale by
// the time the caller acts on it; only HoldAll/FinalizeTx read it under lock.
func (r *ReservationRepo) Available(ctx context.Context, variantID string, exclude OwnerKey) (int, error) {
	var stock int
	if err := r.DB.QueryRow(ctx, `SELECT stock FROM variants WHERE id=$1`, variantID).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVariantNotFound
		}
		return 0, err
	}
	var reserved int
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE variant_id = $1 AND owner_key <> $2 AND expires_at > NOW()`,
		variantID, exclude.String()).Scan(&reserved)
	if err != nil {
		return 0, err
	}
	return stock - reserved, nil
}

// HoldAll commits one owner's hold batch all-or-nothing. Each variant row is
// locked FOR UPDATE, so concurrent batches against the same variant serialize
// and exactly one wins the last unit. On any shortage nothing is committed
// and the complete conflict list comes back.
//
// The upsert replaces quantity and expiry rather than accumulating: a repeat
// call models the owner's current desired cart, not an increment.
func (r *ReservationRepo) HoldAll(ctx context.Context, owner OwnerKey, items []HoldItem, ttl time.Duration) (expiresAt time.Time, conflicts []HoldConflict, err error) {
	for attempt := 0; ; attempt++ {
		expiresAt, conflicts, err = r.holdAllOnce(ctx, owner, items, ttl)
		if err == nil || !retryable(err) || attempt+1 >= txRetries {
			return expiresAt, conflicts, err
		}
	}
}

func (r *ReservationRepo) holdAllOnce(ctx context.Context, owner OwnerKey, items []HoldItem, ttl time.Duration) (time.Time, []HoldConflict, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return time.Time{}, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock in a stable order so two overlapping batches cannot deadlock.
	sorted := make([]HoldItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })

	var conflicts []HoldConflict
	for _, it := range sorted {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM variants WHERE id=$1 FOR UPDATE`, it.VariantID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return time.Time{}, nil, ErrVariantNotFound
			}
			return time.Time{}, nil, err
		}
		_, available, err := availableLocked(ctx, tx, it.VariantID, owner)
		if err != nil {
			return time.Time{}, nil, err
		}
		if available < it.Quantity {
			conflicts = append(conflicts, HoldConflict{
				VariantID: it.VariantID, Available: max(available, 0), Requested: it.Quantity,
			})
		}
	}
	if len(conflicts) > 0 {
		return time.Time{}, conflicts, nil // rollback via defer
	}

	expiresAt := time.Now().UTC().Add(ttl)
	for _, it := range sorted {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(variant_id, owner_key, quantity, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (variant_id, owner_key)
			DO UPDATE SET quantity = EXCLUDED.quantity, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
			it.VariantID, owner.String(), it.Quantity, expiresAt); err != nil {
			return time.Time{}, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, nil, err
	}
	return expiresAt, nil, nil
}

// ReleaseAll deletes every reservation of the owner immediately, returning
// the stock to the pool without waiting for TTL expiry.
func (r *ReservationRepo) ReleaseAll(ctx context.Context, owner OwnerKey) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM reservations WHERE owner_key=$1`, owner.String())
	return err
}

// ActiveHolds lists the owner's non-expired reservations joined with the
// variant snapshot, ordered by variant for stable session line items.
func (r *ReservationRepo) ActiveHolds(ctx context.Context, owner OwnerKey) ([]HeldLine, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT r.variant_id, v.name, r.quantity, v.price_cents, r.expires_at
		FROM reservations r JOIN variants v ON v.id = r.variant_id
		WHERE r.owner_key = $1 AND r.expires_at > NOW()
		ORDER BY r.variant_id`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HeldLine
	for rows.Next() {
		var l HeldLine
		if err := rows.Scan(&l.VariantID, &l.Name, &l.Quantity, &l.PriceCents, &l.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SweepExpired physically deletes expired rows. Availability reads already
// ignore them, so the sweep affects storage growth only.
func (r *ReservationRepo) SweepExpired(ctx context.Context) (int64, error) {
	ct, err := r.DB.Exec(ctx, `DELETE FROM reservations WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
