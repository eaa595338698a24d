// Package gateway wraps the external hosted-checkout provider. Only the
// session contract matters to the checkout core; everything else about
// payments lives on the provider's side.
package gateway

import "context"

type Item struct {
	VariantID  string `json:"variant_id"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

type Session struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

type Status struct {
	Paid     bool              `json:"paid"`
	Metadata map[string]string `json:"metadata"`
}

// CheckoutSessions is the payment-session contract. Metadata set at Create
// comes back verbatim on Retrieve; the core uses it to carry the owner key
// and the purchased line items across the payment redirect.
type CheckoutSessions interface {
	Create(ctx context.Context, items []Item, successURL, cancelURL string, metadata map[string]string) (Session, error)
	Retrieve(ctx context.Context, sessionID string) (Status, error)
}

// Metadata keys the checkout core stores on every session.
const (
	MetaOwnerKey = "owner_key"
	MetaItems    = "items" // JSON-encoded []checkout.PurchasedItem
)
