package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// fakeOllama serves /api/tags and /api/embed. Each embedding is
// [len(text), 0, 0] unless dims overrides the width.
type fakeOllama struct {
	models     []string
	dims       int
	failFirst  int32
	status     int
	embedCalls atomic.Int32

	mu     sync.Mutex
	inputs [][]string
}

func (f *fakeOllama) seen() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs
}

func (f *fakeOllama) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var resp OllamaModelListResponse
			for _, m := range f.models {
				resp.Models = append(resp.Models, OllamaModelInfo{Name: m})
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/api/embed":
			n := f.embedCalls.Add(1)
			if n <= f.failFirst {
				w.WriteHeader(f.status)
				_, _ = w.Write([]byte("busy"))
				return
			}
			var req struct {
				Model string          `json:"model"`
				Input json.RawMessage `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var texts []string
			if err := json.Unmarshal(req.Input, &texts); err != nil {
				var one string
				if err := json.Unmarshal(req.Input, &one); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				texts = []string{one}
			}
			f.mu.Lock()
			f.inputs = append(f.inputs, texts)
			f.mu.Unlock()

			dims := f.dims
			if dims == 0 {
				dims = 3
			}
			resp := OllamaEmbedResponse{Model: req.Model}
			for _, text := range texts {
				vec := make([]float64, dims)
				vec[0] = float64(len(text))
				resp.Embeddings = append(resp.Embeddings, vec)
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry() amerrors.RetryConfig {
	cfg := amerrors.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestNewOllamaEmbedder_ResolvesModelAndDimensions(t *testing.T) {
	// Given: only a fallback model installed with a tag
	f := &fakeOllama{models: []string{"mxbai-embed-large:latest"}, dims: 5}
	srv := f.server(t)

	// When: creating the embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL + "/", Retry: fastRetry()})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the fallback is resolved and dimensions detected
	assert.Equal(t, "mxbai-embed-large:latest", e.ModelName())
	assert.Equal(t, 5, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestNewOllamaEmbedder_NoModel(t *testing.T) {
	f := &fakeOllama{models: []string{"llama3"}}
	srv := f.server(t)

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Retry: fastRetry()})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding model available")
}

func TestOllamaEmbedder_EmbedBatchSplitsAndKeepsOrder(t *testing.T) {
	// Given: batch size 2 and a blank text in the middle
	f := &fakeOllama{models: []string{DefaultOllamaModel}}
	srv := f.server(t)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, BatchSize: 2, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	// When: embedding four texts
	out, err := e.EmbedBatch(context.Background(), []string{"a", " ", "bbb", "cc"})
	require.NoError(t, err)

	// Then: two requests; the blank text never leaves the process
	assert.Equal(t, [][]string{{"a", "bbb"}, {"cc"}}, f.seen())
	require.Len(t, out, 4)
	assert.Equal(t, []float32{1, 0, 0}, out[0])
	assert.Equal(t, []float32{0, 0, 0}, out[1])
	assert.Equal(t, []float32{1, 0, 0}, out[2], "vectors are normalized")
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	f := &fakeOllama{failFirst: 2, status: http.StatusServiceUnavailable}
	srv := f.server(t)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(3), f.embedCalls.Load())
}

func TestOllamaEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	f := &fakeOllama{failFirst: 5, status: http.StatusBadRequest}
	srv := f.server(t)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
	assert.Equal(t, int32(1), f.embedCalls.Load())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	f := &fakeOllama{dims: 4}
	srv := f.server(t)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")

	var dim store.ErrDimensionMismatch
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 3, dim.Expected)
	assert.Equal(t, 4, dim.Got)
}

func TestOllamaEmbedder_CallerDeadlinePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = e.Embed(ctx, "hello")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Dimensions: 3, SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, e.Available(context.Background()))
}
