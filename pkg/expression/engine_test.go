package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_Evaluate(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name     string
		expr     string
		env      map[string]interface{}
		expected interface{}
		wantErr  bool
	}{
		{
			name:     "Simple Math",
			expr:     "1 + 1",
			env:      nil,
			expected: 2,
		},
		{
			name:     "Context Access",
			expr:     "amount > 1000",
			env:      map[string]interface{}{"amount": 2500},
			expected: true,
		},
		{
			name:     "Nested Access",
			expr:     "entity.days",
			env:      map[string]interface{}{"entity": map[string]interface{}{"days": 5}},
			expected: 5,
		},
		{
			name:    "Invalid Expression",
			expr:    "amount >",
			env:     map[string]interface{}{"amount": 1},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := e.Evaluate(tc.expr, tc.env)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestEngine_EvaluateCondition(t *testing.T) {
	e := NewEngine()

	ok, err := e.EvaluateCondition("days > 3 && leave_type == 'annual'", map[string]interface{}{
		"days":       5,
		"leave_type": "annual",
	})
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateCondition("days > 3", map[string]interface{}{"days": 1})
	assert.NoError(t, err)
	assert.False(t, ok)

	// Empty condition means the rule always applies
	ok, err = e.EvaluateCondition("   ", nil)
	assert.NoError(t, err)
	assert.True(t, ok)

	// Non-boolean result is rejected
	_, err = e.EvaluateCondition("1 + 1", nil)
	assert.Error(t, err)
}

func TestEngine_EvaluateCondition_DaysBetween(t *testing.T) {
	e := NewEngine()

	ok, err := e.EvaluateCondition("DAYS_BETWEEN(start_date, end_date) >= 3", map[string]interface{}{
		"start_date": "2026-03-02",
		"end_date":   "2026-03-06",
	})
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_ProgramCache(t *testing.T) {
	e := NewEngine()

	_, err := e.Evaluate("amount * 2", map[string]interface{}{"amount": 10})
	assert.NoError(t, err)

	e.mu.RLock()
	_, cached := e.programCache["amount * 2"]
	e.mu.RUnlock()
	assert.True(t, cached)
}
