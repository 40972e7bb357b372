package events

// Routing keys published by the payment service.
const (
	RoutingTransactionCreated   = "transaction.created"
	RoutingTransactionUpdated   = "transaction.updated"
	RoutingTransactionCompleted = "transaction.completed"
	RoutingTransactionRefunded  = "transaction.refunded"
	RoutingTransactionDisputed  = "transaction.disputed"
	RoutingTransactionCanceled  = "transaction.canceled"
	RoutingTransactionFailed    = "transaction.failed"
	RoutingEscrowFundsHeld      = "escrow.funds_held"
	RoutingEscrowFundsReleased  = "escrow.funds_released"
	RoutingEscrowFundsRefunded  = "escrow.funds_refunded"
)

// ConsumedRoutingKeys lists every key the sales service subscribes to.
var ConsumedRoutingKeys = []string{
	RoutingTransactionCreated,
	RoutingTransactionUpdated,
	RoutingTransactionCompleted,
	RoutingTransactionRefunded,
	RoutingTransactionDisputed,
	RoutingTransactionCanceled,
	RoutingTransactionFailed,
	RoutingEscrowFundsHeld,
	RoutingEscrowFundsReleased,
	RoutingEscrowFundsRefunded,
}
