package redisx

import "time"

const (
	// Dedup event processing: dedup:{service}:{id} (id = event_id or session_id)
	KeyDedup = "dedup:%s:%s"

	// Cache finalized order payload by session: order_by_session:{session_id}
	KeyOrderBySession = "order_by_session:%s"
)

var (
	TTLDedup      = 48 * time.Hour
	TTLOrderCache = 24 * time.Hour
)
