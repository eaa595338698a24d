package checkout

const (
	TopicHoldPlaced       = "checkout.hold.placed"
	TopicHoldRejected     = "checkout.hold.rejected"
	TopicSessionCompleted = "checkout.session.completed"
	TopicOrderFinalized   = "checkout.order.finalized"
	TopicReconciliation   = "checkout.order.reconciliation"
)

// Partition key keeps all events for one owner or one session in order.
func PartitionKey(id string) []byte { return []byte(id) }
