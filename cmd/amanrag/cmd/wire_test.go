package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/intent"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

func TestNewClassifier(t *testing.T) {
	client := llm.NewClient(llm.DefaultConfig())

	tests := []struct {
		name       string
		classifier string
		client     *llm.Client
		want       any
		wantErr    bool
	}{
		{"none", "none", client, nil, false},
		{"pattern", "pattern", nil, &intent.PatternClassifier{}, false},
		{"llm", "llm", client, &intent.LLMClassifier{}, false},
		{"llm without client", "llm", nil, nil, true},
		{"hybrid", "hybrid", client, &intent.HybridClassifier{}, false},
		{"hybrid patterns only", "hybrid", nil, &intent.HybridClassifier{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.Intent.Classifier = tt.classifier

			got, err := newClassifier(cfg, tt.client)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.IsType(t, tt.want, got)
		})
	}
}

func TestBuildApp_ApplyReloadsRetrievalSettings(t *testing.T) {
	// Given: an app wired from the test config
	env := newTestEnv(t)
	cfg, err := config.LoadFile(env.config)
	require.NoError(t, err)
	a, err := buildApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	assert.Equal(t, retrieval.DefaultRRFConstant, a.engine.Config().RRFConstant)

	// When: applying a config with new retrieval and expansion values
	next, err := config.LoadFile(env.config)
	require.NoError(t, err)
	next.Retrieval.RRFK = 30
	next.Expansion.Hops = 1
	require.NoError(t, a.apply(next))

	// Then: both engine and expander see them
	assert.Equal(t, 30, a.engine.Config().RRFConstant)
	assert.Equal(t, 1, a.expander.Config().Hops)

	// And: an invalid config is rejected without partial application
	bad, err := config.LoadFile(env.config)
	require.NoError(t, err)
	bad.Retrieval.RRFK = 0
	assert.Error(t, a.apply(bad))
	assert.Equal(t, 30, a.engine.Config().RRFConstant)
}

func TestOpenStores_DimensionMismatch(t *testing.T) {
	// Given: a dense snapshot written for 64 dimensions
	env := newTestEnv(t)
	cfg, err := config.LoadFile(env.config)
	require.NoError(t, err)
	st, err := openStores(context.Background(), cfg, 64)
	require.NoError(t, err)
	require.NoError(t, st.hnsw.Save(cfg.DensePath()))
	require.NoError(t, st.Close())

	// When: reopening for another embedding dimension
	_, err = openStores(context.Background(), cfg, 32)

	// Then: the mismatch is reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another embedding model")
}
