package events

// Event enumerates high-level topics inside the signal pipeline.
type Event string

const (
	EventSignalReceived    Event = "signal.received"
	EventSignalDropped     Event = "signal.dropped"
	EventOrderDispatched   Event = "order.dispatched"
	EventOrderFilled       Event = "order.filled"
	EventOrderRejected     Event = "order.rejected"
	EventOrderDeduplicated Event = "order.deduplicated"
	EventStrategyToggled   Event = "strategy.toggled"
	EventActivityRecord    Event = "activity.record"
)
