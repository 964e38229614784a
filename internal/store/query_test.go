package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/store"
)

func TestParseNakedValueImpliesEq(t *testing.T) {
	q, err := store.Parse(map[string]string{"agtuuid": "agent-a"})
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, store.OpEq, q[0].Op)
	assert.False(t, q[0].Negate)
	assert.Equal(t, "agent-a", q[0].Value)
}

func TestParseOperatorExpression(t *testing.T) {
	q, err := store.Parse(map[string]string{"weight": "$gt:5"})
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, store.OpGt, q[0].Op)
	assert.Equal(t, "5", q[0].Value)
}

func TestParseNegatedOperatorExpression(t *testing.T) {
	q, err := store.Parse(map[string]string{"weight": "$!eq:5"})
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.True(t, q[0].Negate)
	assert.Equal(t, store.OpEq, q[0].Op)
}

func TestParseRejectsUnknownOperator(t *testing.T) {
	_, err := store.Parse(map[string]string{"weight": "$bogus:5"})
	assert.Error(t, err)
}

func TestParseRejectsMalformedExpression(t *testing.T) {
	_, err := store.Parse(map[string]string{"weight": "$gt"})
	assert.Error(t, err)
}
