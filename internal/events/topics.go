package events

// Topics emitted by the cart service.
const (
	TopicCartAdded     = "cart.added"
	TopicCartRemoved   = "cart.removed"
	TopicCartDestroyed = "cart.destroyed"
	TopicCartBatch     = "cart.batch"
)
