package domain

import "time"

type RuleType string

const (
	RuleTypeEntry RuleType = "entry"
	RuleTypeExit  RuleType = "exit"
	RuleTypeRisk  RuleType = "risk"
)

// Rank orders rule types for prioritization: exit before risk before entry.
func (t RuleType) Rank() int {
	switch t {
	case RuleTypeExit:
		return 0
	case RuleTypeRisk:
		return 1
	case RuleTypeEntry:
		return 2
	default:
		return 3
	}
}

func (t RuleType) Valid() bool {
	return t.Rank() < 3
}

type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

type ActionType string

const (
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
)

func (a ActionType) Side() Side {
	if a == ActionSell {
		return SideSell
	}
	return SideBuy
}

type SizingMethod string

const (
	SizingFixed              SizingMethod = "fixed"
	SizingPercentage         SizingMethod = "percentage"
	SizingFullPosition       SizingMethod = "full_position"
	SizingKelly              SizingMethod = "kelly"
	SizingVolatilityAdjusted SizingMethod = "volatility_adjusted"
	SizingRiskParity         SizingMethod = "risk_parity"
)

func (m SizingMethod) Valid() bool {
	switch m {
	case SizingFixed, SizingPercentage, SizingFullPosition, SizingKelly,
		SizingVolatilityAdjusted, SizingRiskParity:
		return true
	}
	return false
}

// NeedsSizeValue reports whether the method cannot work without Action.SizeValue.
func (m SizingMethod) NeedsSizeValue() bool {
	switch m {
	case SizingFixed, SizingPercentage, SizingVolatilityAdjusted, SizingRiskParity:
		return true
	}
	return false
}

type PriceType string

const (
	PriceMarket PriceType = "market"
	PriceLimit  PriceType = "limit"
	PriceStop   PriceType = "stop"
)

type Condition struct {
	Field            FieldSelector `json:"field" yaml:"field"`
	Operator         Operator      `json:"operator" yaml:"operator"`
	Value            string        `json:"value" yaml:"value"`
	LogicalConnector Connector     `json:"logical_connector,omitempty" yaml:"logical_connector"`
}

type Action struct {
	Type         ActionType   `json:"type" yaml:"type"`
	SizingMethod SizingMethod `json:"sizing_method" yaml:"sizing_method"`
	SizeValue    float64      `json:"size_value" yaml:"size_value"`
	PriceType    PriceType    `json:"price_type" yaml:"price_type"`
	PriceOffset  float64      `json:"price_offset" yaml:"price_offset"` // percent
}

type TradingRule struct {
	ID        string    `gorm:"primarykey" json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`

	PortfolioID string      `gorm:"index;not null" json:"portfolio_id" yaml:"portfolio_id"`
	StrategyID  string      `gorm:"index" json:"strategy_id" yaml:"strategy_id"`
	Name        string      `json:"name" yaml:"name"`
	IsActive    bool        `json:"is_active" yaml:"is_active"`
	Priority    int         `json:"priority" yaml:"priority"`
	RuleType    RuleType    `gorm:"not null" json:"rule_type" yaml:"rule_type"`
	Conditions  []Condition `gorm:"serializer:json;type:text" json:"conditions" yaml:"conditions"`
	Actions     []Action    `gorm:"serializer:json;type:text" json:"actions" yaml:"actions"`
}
