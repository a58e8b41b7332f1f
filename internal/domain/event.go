package domain

import "time"

type EventKind string

const (
	EventOrderExecuted    EventKind = "order_executed"
	EventOrderFailed      EventKind = "order_failed"
	EventOrderCancelled   EventKind = "order_cancelled"
	EventStrategyDeployed EventKind = "strategy_deployed"
	EventStrategyStopped  EventKind = "strategy_stopped"
	EventStrategyError    EventKind = "strategy_error"
	EventEmergencyStop    EventKind = "emergency_stop"
)

// Event is a fire-and-forget notification. Delivery failures never reach the sender.
type Event struct {
	Kind        EventKind
	StrategyID  string
	PortfolioID string
	Message     string
	Order       *Order
	At          time.Time
}
