package checkout

import "time"

// Variant is a purchasable SKU. The catalog owns everything here except
// stock, which only order finalization mutates.
type Variant struct {
	ID         string
	SKU        string
	Name       string
	Stock      int
	PriceCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reservation is a temporary claim on stock. At most one row exists per
// (variant, owner); a repeat hold replaces quantity and expiry.
type Reservation struct {
	VariantID string
	Owner     OwnerKey
	Quantity  int
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID         string
	SessionID  string
	Owner      OwnerKey
	Status     OrderStatus
	TotalCents int
	CreatedAt  time.Time
	Items      []OrderItem
}

// OrderItem snapshots name and price at purchase time so later catalog edits
// never change historical orders.
type OrderItem struct {
	ID         int64
	OrderID    string
	VariantID  string
	Name       string
	Qty        int
	PriceCents int
}

// HoldItem is one requested line of a hold batch.
type HoldItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// HeldItem is one committed line of a successful hold.
type HeldItem struct {
	VariantID    string `json:"variant_id"`
	QuantityHeld int    `json:"quantity_held"`
}

// HoldConflict reports one line that could not be held.
type HoldConflict struct {
	VariantID string `json:"variant_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// HeldLine is an active reservation joined with its variant snapshot, used to
// build a payment session.
type HeldLine struct {
	VariantID  string
	Name       string
	Quantity   int
	PriceCents int
	ExpiresAt  time.Time
}

// PurchasedItem is what a payment session says was bought, carried in the
// session metadata from create-session to finalize.
type PurchasedItem struct {
	VariantID  string `json:"variant_id"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}
