// Package rules evaluates declarative trading rules against a TradingContext.
package rules

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/camuig/autotrader/internal/domain"
)

const epsilon = 1e-9

// Evaluate reports whether the rule fires for the context. Inactive rules never
// fire; an active rule without conditions always fires. Conditions fold left and
// the connector on condition i decides how condition i+1 joins the running result.
func Evaluate(rule domain.TradingRule, tc *domain.TradingContext) bool {
	if !rule.IsActive {
		return false
	}
	if len(rule.Conditions) == 0 {
		return true
	}

	result := evalCondition(rule.Conditions[0], tc)
	for i := 1; i < len(rule.Conditions); i++ {
		next := evalCondition(rule.Conditions[i], tc)
		if strings.EqualFold(string(rule.Conditions[i-1].LogicalConnector), string(domain.ConnectorOr)) {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

func evalCondition(c domain.Condition, tc *domain.TradingContext) bool {
	left, ok := resolve(c.Field, tc)
	if !ok {
		return false
	}

	switch c.Operator {
	case domain.OpEquals:
		return equals(left, c.Value)
	case domain.OpNotEquals:
		return !equals(left, c.Value)
	}

	l, lok := left.float()
	r, rok := parseNumber(c.Value)
	if !lok || !rok {
		return false
	}
	switch c.Operator {
	case domain.OpGreaterThan:
		return l > r
	case domain.OpLessThan:
		return l < r
	case domain.OpGreaterEqual:
		return l >= r
	case domain.OpLessEqual:
		return l <= r
	}
	return false
}

func equals(left value, raw string) bool {
	if l, ok := left.float(); ok {
		if r, ok := parseNumber(raw); ok {
			return math.Abs(l-r) < epsilon
		}
	}
	if left.kind == domain.KindBool {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		return err == nil && b == left.flag
	}
	return strings.EqualFold(left.text(), strings.TrimSpace(raw))
}

func (v value) float() (float64, bool) {
	switch v.kind {
	case domain.KindNumber:
		return v.num, true
	case domain.KindString:
		return parseNumber(v.str)
	}
	return 0, false
}

func (v value) text() string {
	switch v.kind {
	case domain.KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case domain.KindBool:
		return strconv.FormatBool(v.flag)
	}
	return v.str
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// PrioritizeRules returns a copy sorted by priority descending, then exit before
// risk before entry. Equal rules keep their input order.
func PrioritizeRules(rules []domain.TradingRule) []domain.TradingRule {
	out := make([]domain.TradingRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].RuleType.Rank() < out[j].RuleType.Rank()
	})
	return out
}

// ConflictResolution keeps the single winning rule among the triggered ones:
// highest priority, then rule type order, then lowest ID.
func ConflictResolution(triggered []domain.TradingRule) []domain.TradingRule {
	if len(triggered) == 0 {
		return nil
	}
	best := triggered[0]
	for _, r := range triggered[1:] {
		if outranks(r, best) {
			best = r
		}
	}
	return []domain.TradingRule{best}
}

func outranks(a, b domain.TradingRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.RuleType.Rank() != b.RuleType.Rank() {
		return a.RuleType.Rank() < b.RuleType.Rank()
	}
	return a.ID < b.ID
}
