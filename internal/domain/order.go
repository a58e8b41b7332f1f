package domain

import (
	"fmt"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderExecuting OrderStatus = "EXECUTING"
	OrderExecuted  OrderStatus = "EXECUTED"
	OrderFailed    OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderExecuting, OrderCancelled},
	OrderExecuting: {OrderExecuted, OrderFailed},
}

func (s OrderStatus) Terminal() bool {
	return s == OrderExecuted || s == OrderFailed || s == OrderCancelled
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PortfolioID      string      `gorm:"index;not null" json:"portfolio_id"`
	StrategyID       string      `gorm:"index" json:"strategy_id,omitempty"`
	Symbol           string      `gorm:"index;not null" json:"symbol"`
	Side             Side        `gorm:"not null" json:"side"`
	Quantity         int64       `gorm:"not null" json:"quantity"`
	PriceType        PriceType   `json:"price_type"`
	TriggerPrice     float64     `json:"trigger_price"`
	ExecutedPrice    float64     `json:"executed_price,omitempty"`
	ExecutedQuantity int64       `json:"executed_quantity,omitempty"`
	Status           OrderStatus `gorm:"index;not null" json:"status"`
	RuleID           string      `json:"rule_id,omitempty"`
	RecommendationID string      `json:"recommendation_id,omitempty"`
	Confidence       float64     `json:"confidence,omitempty"`
	RiskLevel        string      `json:"risk_level,omitempty"`
	Automated        bool        `json:"automated"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	RealizedPnL      float64     `gorm:"column:realized_pnl" json:"realized_pnl"`
	ExecutedAt       *time.Time  `json:"executed_at,omitempty"`
}

// Transition moves the order along its lifecycle. Terminal states never change.
func (o *Order) Transition(next OrderStatus) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// Fail marks an EXECUTING order as FAILED with a reason.
func (o *Order) Fail(reason string) error {
	if err := o.Transition(OrderFailed); err != nil {
		return err
	}
	o.FailureReason = reason
	return nil
}

// Fill is a brokerage execution report.
type Fill struct {
	BrokerOrderID string
	Price         float64
	Quantity      int64
	At            time.Time
}

// OrderFilter narrows order queries. Zero values are ignored.
type OrderFilter struct {
	PortfolioID string
	StrategyID  string
	Symbol      string
	Statuses    []OrderStatus
	From        time.Time
	To          time.Time
	Limit       int

	// ByExecution applies From/To to ExecutedAt instead of CreatedAt and
	// lists the most recently executed first.
	ByExecution bool
}
