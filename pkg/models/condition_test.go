package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleConditionEvaluator(t *testing.T) {
	evaluator := SimpleConditionEvaluator{}
	context := map[string]any{
		"stage":       "prospect",
		"deal_value":  15000.0,
		"description": "enterprise renewal deal",
	}

	tests := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{
			name:      "equals match",
			condition: Condition{Field: "stage", Operator: OperatorEquals, Value: "prospect"},
			want:      true,
		},
		{
			name:      "equals mismatch",
			condition: Condition{Field: "stage", Operator: OperatorEquals, Value: "keep"},
			want:      false,
		},
		{
			name:      "not equals",
			condition: Condition{Field: "stage", Operator: OperatorNotEquals, Value: "keep"},
			want:      true,
		},
		{
			name:      "contains",
			condition: Condition{Field: "description", Operator: OperatorContains, Value: "renewal"},
			want:      true,
		},
		{
			name:      "greater than",
			condition: Condition{Field: "deal_value", Operator: OperatorGreater, Value: 10000},
			want:      true,
		},
		{
			name:      "less than",
			condition: Condition{Field: "deal_value", Operator: OperatorLess, Value: 10000},
			want:      false,
		},
		{
			name:      "exists",
			condition: Condition{Field: "stage", Operator: OperatorExists},
			want:      true,
		},
		{
			name:      "exists missing field",
			condition: Condition{Field: "owner", Operator: OperatorExists},
			want:      false,
		},
		{
			name:      "empty field always matches",
			condition: Condition{},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.condition, context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimpleConditionEvaluator_Errors(t *testing.T) {
	evaluator := SimpleConditionEvaluator{}
	context := map[string]any{"deal_value": "not-a-number"}

	_, err := evaluator.Evaluate(Condition{
		Field:    "deal_value",
		Operator: OperatorGreater,
		Value:    100,
	}, context)
	assert.Error(t, err)

	_, err = evaluator.Evaluate(Condition{
		Field:    "deal_value",
		Operator: "matches_regex",
	}, context)
	assert.Error(t, err)
}
