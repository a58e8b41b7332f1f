package rules

import (
	"fmt"
	"strings"

	"github.com/camuig/autotrader/internal/domain"
)

type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err returns nil for a valid result, otherwise a *domain.ValidationError.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return &domain.ValidationError{Reasons: r.Errors}
}

// Validate checks a rule definition before it is stored or deployed.
func Validate(rule domain.TradingRule) ValidationResult {
	var res ValidationResult

	if strings.TrimSpace(rule.Name) == "" {
		res.Warnings = append(res.Warnings, "rule has no name")
	}
	if !rule.RuleType.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown rule type %q", rule.RuleType))
	}
	if rule.Priority < 0 || rule.Priority > 100 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("priority %d outside 0..100", rule.Priority))
	}

	if len(rule.Conditions) == 0 {
		res.Errors = append(res.Errors, "at least one condition is required")
	}
	for i, c := range rule.Conditions {
		prefix := fmt.Sprintf("condition %d", i+1)
		if !c.Field.Known() {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown field %q", prefix, c.Field))
		}
		if !c.Operator.Valid() {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown operator %q", prefix, c.Operator))
		}
		if strings.TrimSpace(c.Value) == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: value is required", prefix))
		}
		switch strings.ToUpper(string(c.LogicalConnector)) {
		case "", string(domain.ConnectorAnd), string(domain.ConnectorOr):
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: connector must be AND or OR", prefix))
		}
		if c.Field.Known() && c.Field.Kind() != domain.KindNumber && ordering(c.Operator) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s on non-numeric field %s never matches", prefix, c.Operator, c.Field))
		}
	}

	if len(rule.Actions) == 0 {
		res.Errors = append(res.Errors, "at least one action is required")
	}
	for i, a := range rule.Actions {
		prefix := fmt.Sprintf("action %d", i+1)
		if a.Type != domain.ActionBuy && a.Type != domain.ActionSell {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown type %q", prefix, a.Type))
		}
		if !a.SizingMethod.Valid() {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown sizing method %q", prefix, a.SizingMethod))
		} else if a.SizingMethod.NeedsSizeValue() && a.SizeValue <= 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s sizing needs a positive size value", prefix, a.SizingMethod))
		}
		switch a.PriceType {
		case "", domain.PriceMarket:
		case domain.PriceLimit, domain.PriceStop:
			if a.PriceOffset == 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s order without price offset", prefix, a.PriceType))
			}
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown price type %q", prefix, a.PriceType))
		}
		if a.SizingMethod == domain.SizingKelly {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: kelly sizing falls back to 1%% until the strategy has closed trades", prefix))
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// ValidateAll validates a rule set and merges the errors, prefixed by rule.
func ValidateAll(rules []domain.TradingRule) error {
	var reasons []string
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID != "" {
			if seen[r.ID] {
				reasons = append(reasons, fmt.Sprintf("rule %s: duplicate id", r.ID))
			}
			seen[r.ID] = true
		}
		for _, e := range Validate(r).Errors {
			reasons = append(reasons, fmt.Sprintf("rule %s: %s", label(r), e))
		}
	}
	if len(reasons) > 0 {
		return &domain.ValidationError{Reasons: reasons}
	}
	return nil
}

func label(r domain.TradingRule) string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("%q", r.Name)
}

func ordering(op domain.Operator) bool {
	switch op {
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterEqual, domain.OpLessEqual:
		return true
	}
	return false
}
