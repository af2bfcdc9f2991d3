package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

func TestQueryOptions_ToQuery(t *testing.T) {
	// Given: flags as parsed by cobra
	opts := queryOptions{
		namespace: "acme",
		topK:      5,
		deadline:  800 * time.Millisecond,
		weights:   "dense=0.6,sparse=0.4",
		hops:      2,
		noRerank:  true,
	}

	// When: building the query
	q, err := opts.toQuery("refresh tokens")

	// Then: every flag is carried over
	require.NoError(t, err)
	assert.Equal(t, "refresh tokens", q.Text)
	assert.Equal(t, "acme", q.Namespace)
	assert.Equal(t, 5, q.TopK)
	assert.Equal(t, 800*time.Millisecond, q.Deadline)
	require.NotNil(t, q.Weights)
	assert.Equal(t, retrieval.IntentWeights{Dense: 0.6, Sparse: 0.4}, *q.Weights)
	require.NotNil(t, q.Overrides.Hops)
	assert.Equal(t, 2, *q.Overrides.Hops)
	require.NotNil(t, q.Overrides.RerankEnabled)
	assert.False(t, *q.Overrides.RerankEnabled)
}

func TestQueryOptions_Defaults(t *testing.T) {
	q, err := queryOptions{hops: -1}.toQuery("x")

	require.NoError(t, err)
	assert.Nil(t, q.Weights)
	assert.Nil(t, q.Overrides.Hops)
	assert.Nil(t, q.Overrides.RerankEnabled)
	assert.Zero(t, q.TopK)
	assert.Zero(t, q.Deadline)
}

func TestQueryOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts queryOptions
		code string
	}{
		{"negative top-k", queryOptions{topK: -1, hops: -1}, amerrors.ErrCodeInvalidInput},
		{"negative deadline", queryOptions{deadline: -time.Second, hops: -1}, amerrors.ErrCodeInvalidInput},
		{"bad weights", queryOptions{weights: "dense=0.2", hops: -1}, amerrors.ErrCodeInvalidWeights},
		{"zero hops", queryOptions{hops: 0}, amerrors.ErrCodeInvalidInput},
		{"too many hops", queryOptions{hops: 4}, amerrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.toQuery("x")
			require.Error(t, err)
			assert.Equal(t, tt.code, amerrors.GetCode(err))
		})
	}
}
