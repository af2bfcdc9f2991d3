package output

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status with icon", func(w *Writer) { w.Status("*", "Loading fixture") }, "* Loading fixture\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"success", func(w *Writer) { w.Successf("loaded %d chunks", 3) }, "✓ loaded 3 chunks\n"},
		{"warning", func(w *Writer) { w.Warning("ollama unavailable") }, "! ollama unavailable\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, "✗ failed: boom\n"},
		{"newline", func(w *Writer) { w.Newline() }, "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a plain writer
			buf := &bytes.Buffer{}
			w := NewWithColor(buf, false)

			// When: writing
			tt.write(w)

			// Then: the line is exact
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	buf := &bytes.Buffer{}
	assert.False(t, IsTTY(buf))
	assert.False(t, ColorEnabled(buf))

	New(buf).Success("ok")
	assert.Equal(t, "✓ ok\n", buf.String())
}

func TestColorEnabled_RespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, ColorEnabled(nil))
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"  many   spaces\nand lines ", 40, "many spaces and lines"},
		{"abcdefghij", 5, "abcd…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Snippet(tt.in, tt.width))
	}
}

type stubRetriever struct {
	src retrieval.Source
	ids []string
	err error
}

func (s stubRetriever) Source() retrieval.Source { return s.src }

func (s stubRetriever) Retrieve(_ context.Context, q retrieval.Query, _ []string, _ int) ([]retrieval.SourceCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]retrieval.SourceCandidate, len(s.ids))
	for i, id := range s.ids {
		out[i] = retrieval.SourceCandidate{
			ID: id, RawScore: 1 - float64(i)*0.1, Source: s.src, Rank: i + 1,
			Payload: retrieval.Payload{Text: "passage about " + id, DocumentID: "doc-" + id, Namespace: "_default"},
		}
	}
	return out, nil
}

func resultSet(t *testing.T, rs ...retrieval.Retriever) *retrieval.FusedResultSet {
	t.Helper()
	e, err := retrieval.NewEngine(rs, retrieval.DefaultConfig())
	require.NoError(t, err)
	set, err := e.Retrieve(context.Background(), retrieval.Query{Text: "token refresh", RequestID: "req-1"})
	require.NoError(t, err)
	return set
}

func TestRenderResults_Plain(t *testing.T) {
	// Given: a result set from two agreeing sources
	rs := resultSet(t,
		stubRetriever{src: retrieval.SourceDense, ids: []string{"c1", "c2"}},
		stubRetriever{src: retrieval.SourceSparse, ids: []string{"c1"}},
	)

	// When: rendering without explain
	buf := &bytes.Buffer{}
	require.NoError(t, RenderResults(buf, rs, RenderOptions{}))

	// Then: citations, ids, sources and snippets are listed
	out := buf.String()
	assert.Contains(t, out, "[1] c1")
	assert.Contains(t, out, "dense,sparse")
	assert.Contains(t, out, "[2] c2")
	assert.Contains(t, out, "doc-c1 #0 (_default)")
	assert.Contains(t, out, "passage about c1")
	assert.NotContains(t, out, "ranks:")
	assert.NotContains(t, out, "weights:")
}

func TestRenderResults_ExplainAndDegraded(t *testing.T) {
	// Given: one healthy and one failing source
	rs := resultSet(t,
		stubRetriever{src: retrieval.SourceDense, ids: []string{"c1"}},
		stubRetriever{src: retrieval.SourceSparse, err: assert.AnError},
	)

	// When: rendering with explain
	buf := &bytes.Buffer{}
	require.NoError(t, RenderResults(buf, rs, RenderOptions{Explain: true}))

	// Then: the explain block and the degraded source are shown
	out := buf.String()
	assert.Contains(t, out, "ranks: dense#1")
	assert.Contains(t, out, "degraded: sparse")
	assert.Contains(t, out, "request: req-1")
	assert.Contains(t, out, "weights:")
	assert.Contains(t, out, "sources:")
}
