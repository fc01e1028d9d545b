package expr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	t.Run("Should create evaluator with default cost limit", func(t *testing.T) {
		e, err := NewEvaluator()
		require.NoError(t, err)
		assert.NotNil(t, e.env)
		assert.Equal(t, uint64(1000), e.costLimit)
	})
	t.Run("Should honor custom cost limit", func(t *testing.T) {
		e, err := NewEvaluator(WithCostLimit(50))
		require.NoError(t, err)
		assert.Equal(t, uint64(50), e.costLimit)
	})
}

func TestEvaluator_Evaluate(t *testing.T) {
	ctx := context.Background()
	e, err := NewEvaluator()
	require.NoError(t, err)

	t.Run("Should evaluate simple boolean expression", func(t *testing.T) {
		data := map[string]any{"order": map[string]any{"status": "approved"}}
		ok, err := e.Evaluate(ctx, `order.status == "approved"`, data)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should evaluate numeric comparison", func(t *testing.T) {
		data := map[string]any{"amount": 120.5}
		ok, err := e.Evaluate(ctx, `amount > 100.0`, data)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should return false result without error", func(t *testing.T) {
		data := map[string]any{"flag": false}
		ok, err := e.Evaluate(ctx, `flag`, data)
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should error on undeclared variable", func(t *testing.T) {
		_, err := e.Evaluate(ctx, `missing == 1`, map[string]any{"present": 1})
		assert.Error(t, err)
	})
	t.Run("Should error on non-boolean result", func(t *testing.T) {
		_, err := e.Evaluate(ctx, `1 + 1`, map[string]any{})
		assert.Error(t, err)
	})
	t.Run("Should reuse cached program for repeated predicates", func(t *testing.T) {
		data := map[string]any{"n": 1}
		for range 3 {
			ok, err := e.Evaluate(ctx, `n == 1`, data)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
	t.Run("Should honor canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Evaluate(canceled, `true`, map[string]any{})
		assert.Error(t, err)
	})
}
