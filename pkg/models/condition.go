package models

import (
	"fmt"
	"strings"
)

type ConditionOperator string

const (
	OperatorEquals    ConditionOperator = "equals"
	OperatorNotEquals ConditionOperator = "not_equals"
	OperatorContains  ConditionOperator = "contains"
	OperatorGreater   ConditionOperator = "greater_than"
	OperatorLess      ConditionOperator = "less_than"
	OperatorExists    ConditionOperator = "exists"
)

// Condition is a structured predicate over the execution context. All of a
// rule's conditions must hold for its actions to fire.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// ConditionEvaluator evaluates a single condition against an execution
// context. Implementations must never panic; evaluation failures are
// reported as errors and treated by the dispatcher as not-matched.
type ConditionEvaluator interface {
	Evaluate(condition Condition, context map[string]any) (bool, error)
}

// SimpleConditionEvaluator interprets conditions over flat context keys with
// basic comparison semantics.
type SimpleConditionEvaluator struct{}

func (SimpleConditionEvaluator) Evaluate(condition Condition, context map[string]any) (bool, error) {
	if condition.Field == "" {
		return true, nil
	}

	value, exists := context[condition.Field]

	switch condition.Operator {
	case OperatorExists:
		return exists, nil
	case OperatorEquals, "":
		return exists && equalValues(value, condition.Value), nil
	case OperatorNotEquals:
		return !exists || !equalValues(value, condition.Value), nil
	case OperatorContains:
		haystack, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("field %q is %T, contains needs a string", condition.Field, value)
		}

		needle, ok := condition.Value.(string)
		if !ok {
			return false, fmt.Errorf("contains value for field %q must be a string", condition.Field)
		}

		return strings.Contains(haystack, needle), nil
	case OperatorGreater, OperatorLess:
		left, err := asFloat(value)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", condition.Field, err)
		}

		right, err := asFloat(condition.Value)
		if err != nil {
			return false, fmt.Errorf("condition value for field %q: %w", condition.Field, err)
		}

		if condition.Operator == OperatorGreater {
			return left > right, nil
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("unsupported condition operator %q", condition.Operator)
	}
}

func equalValues(left, right any) bool {
	lf, lerr := asFloat(left)
	rf, rerr := asFloat(right)

	if lerr == nil && rerr == nil {
		return lf == rf
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}
