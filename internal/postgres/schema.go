package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the checkout tables when they do not exist yet.
// Idempotent, so every binary can run it at startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS variants (
		id TEXT PRIMARY KEY,
		sku TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		stock INT NOT NULL CHECK (stock >= 0),
		price_cents INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS reservations (
		variant_id TEXT NOT NULL REFERENCES variants(id),
		owner_key TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0),
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (variant_id, owner_key)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		session_id TEXT UNIQUE NOT NULL,
		owner_key TEXT NOT NULL,
		status TEXT NOT NULL,
		total_cents INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		variant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		qty INT NOT NULL,
		price_cents INT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON reservations(expires_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_owner ON reservations(owner_key);
	`
	_, err := db.Exec(ctx, schema)
	return err
}
