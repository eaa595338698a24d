package checkout

import (
	"encoding/json"
	"time"
)

const (
	EventHoldPlaced           = "HoldPlaced"
	EventHoldRejected         = "HoldRejected"
	EventSessionCompleted     = "SessionCompleted"
	EventOrderFinalized       = "OrderFinalized"
	EventReconciliationNeeded = "ReconciliationNeeded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // owner key or session id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type HoldPlacedPayload struct {
	OwnerKey  string     `json:"owner_key"`
	Items     []HeldItem `json:"items"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type HoldRejectedPayload struct {
	OwnerKey string         `json:"owner_key"`
	Reason   string         `json:"reason"` // OUT_OF_STOCK
	Details  []HoldConflict `json:"details,omitempty"`
}

type SessionCompletedPayload struct {
	SessionID string `json:"session_id"`
}

type OrderFinalizedPayload struct {
	OrderID    string `json:"order_id"`
	SessionID  string `json:"session_id"`
	Status     string `json:"status"` // FINALIZED | RECONCILIATION_NEEDED
	TotalCents int    `json:"total_cents"`
}
