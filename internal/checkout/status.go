package checkout

// SessionState tracks a payment session through checkout.
type SessionState string

const (
	SessionPending              SessionState = "PENDING"
	SessionPaid                 SessionState = "PAID"
	SessionFinalized            SessionState = "FINALIZED"
	SessionReconciliationNeeded SessionState = "RECONCILIATION_NEEDED"
)

var validNext = map[SessionState]map[SessionState]bool{
	SessionPending:              {SessionPaid: true},
	SessionPaid:                 {SessionFinalized: true, SessionReconciliationNeeded: true},
	SessionFinalized:            {},
	SessionReconciliationNeeded: {},
}

func CanTransition(from, to SessionState) bool {
	return validNext[from][to]
}

// OrderStatus is the terminal outcome recorded on the order row.
type OrderStatus string

const (
	OrderFinalized OrderStatus = OrderStatus(SessionFinalized)

	// OrderReconciliationNeeded marks a paid session whose backing hold had
	// expired and whose stock was claimed elsewhere. No stock was decremented;
	// the back office refunds the payment.
	OrderReconciliationNeeded OrderStatus = OrderStatus(SessionReconciliationNeeded)
)
