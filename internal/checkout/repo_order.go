package checkout

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepo struct{ DB *pgxpool.Pool }

// GetBySession loads the order created for a payment session, items included.
func (r *OrderRepo) GetBySession(ctx context.Context, sessionID string) (*Order, error) {
	var o Order
	var ownerRaw, status string
	err := r.DB.QueryRow(ctx, `
		SELECT id, session_id, owner_key, status, total_cents, created_at
		FROM orders WHERE session_id=$1`, sessionID).
		Scan(&o.ID, &o.SessionID, &ownerRaw, &status, &o.TotalCents, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	o.Status = OrderStatus(status)
	if o.Owner, err = ParseOwnerKey(ownerRaw); err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, variant_id, name, qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Name, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// FinalizeTx converts a paid session into a durable order exactly once.
//
// Inside one transaction it re-validates, per purchased variant and under the
// variant row lock, that stock net of other owners' active reservations still
// covers the purchase. If every line fits it decrements stock, deletes the
// buyer's reservations for those variants and records a FINALIZED order. If
// any line no longer fits (the hold expired and someone else claimed the
// stock) it records a RECONCILIATION_NEEDED order instead, touching neither
// stock nor reservations, so the payment can be refunded.
//
// The unique index on session_id makes the whole thing idempotent: a
// concurrent duplicate insert loses with 23505 and the winner's order is
// returned with existed=true.
func (r *OrderRepo) FinalizeTx(ctx context.Context, sessionID string, owner OwnerKey, items []PurchasedItem) (order *Order, existed bool, err error) {
	for attempt := 0; ; attempt++ {
		order, existed, err = r.finalizeOnce(ctx, sessionID, owner, items)
		if err == nil || !retryable(err) || attempt+1 >= txRetries {
			return order, existed, err
		}
	}
}

func (r *OrderRepo) finalizeOnce(ctx context.Context, sessionID string, owner OwnerKey, items []PurchasedItem) (*Order, bool, error) {
	if existing, err := r.GetBySession(ctx, sessionID); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, ErrOrderNotFound) {
		return nil, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sorted := make([]PurchasedItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })

	short := false
	for _, it := range sorted {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM variants WHERE id=$1 FOR UPDATE`, it.VariantID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, ErrVariantNotFound
			}
			return nil, false, err
		}
		_, available, err := availableLocked(ctx, tx, it.VariantID, owner)
		if err != nil {
			return nil, false, err
		}
		if available < it.Qty {
			short = true
			break
		}
	}

	status := OrderFinalized
	if short {
		status = OrderReconciliationNeeded
	} else {
		for _, it := range sorted {
			if _, err := tx.Exec(ctx, `UPDATE variants SET stock = stock - $2, updated_at = NOW() WHERE id=$1`,
				it.VariantID, it.Qty); err != nil {
				return nil, false, err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE variant_id=$1 AND owner_key=$2`,
				it.VariantID, owner.String()); err != nil {
				return nil, false, err
			}
		}
	}

	total := 0
	for _, it := range sorted {
		total += it.Qty * it.PriceCents
	}

	o := &Order{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Owner:      owner,
		Status:     status,
		TotalCents: total,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, session_id, owner_key, status, total_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.SessionID, owner.String(), string(o.Status), o.TotalCents, o.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// lost the insert race; the winner's order is the order
			_ = tx.Rollback(ctx)
			winner, gerr := r.GetBySession(ctx, sessionID)
			if gerr != nil {
				return nil, false, gerr
			}
			return winner, true, nil
		}
		return nil, false, err
	}
	for _, it := range sorted {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, variant_id, name, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.VariantID, it.Name, it.Qty, it.PriceCents); err != nil {
			return nil, false, err
		}
		o.Items = append(o.Items, OrderItem{
			OrderID: o.ID, VariantID: it.VariantID, Name: it.Name, Qty: it.Qty, PriceCents: it.PriceCents,
		})
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return o, false, nil
}
