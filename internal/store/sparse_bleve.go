package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// TermTokenizerName is the bleve tokenizer wrapping Tokenize.
	TermTokenizerName = "amanrag_terms"

	// TermStopFilterName drops English stop words.
	TermStopFilterName = "amanrag_stop"

	// TermAnalyzerName is the analyzer used for chunk text.
	TermAnalyzerName = "amanrag_text"
)

func init() {
	_ = registry.RegisterTokenizer(TermTokenizerName, termTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TermStopFilterName, termStopFilterConstructor)
}

// BleveSparseStore implements SparseStore on a bleve index. A sparse query
// becomes a disjunction of term queries boosted by their weights, restricted
// to one namespace.
type BleveSparseStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the indexed document.
type bleveChunk struct {
	Text       string `json:"text"`
	Namespace  string `json:"namespace"`
	RawNS      string `json:"raw_namespace"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
}

var bleveFields = []string{"text", "raw_namespace", "document_id", "chunk_index"}

// NewBleveSparseStore opens or creates an index at path. An empty path
// creates an in-memory index. A corrupt index is cleared and recreated.
func NewBleveSparseStore(path string) (*BleveSparseStore, error) {
	im, err := sparseIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if validErr := validateIndexMeta(path); validErr != nil {
			slog.Warn("sparse_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("sparse index corrupted at %s and cannot remove: %w", path, removeErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}
	return &BleveSparseStore{index: idx, path: path}, nil
}

func sparseIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(TermAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     TermTokenizerName,
		"token_filters": []string{TermStopFilterName},
	})
	if err != nil {
		return nil, err
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = TermAnalyzerName
	text.Store = true

	ns := bleve.NewTextFieldMapping()
	ns.Analyzer = keyword.Name
	ns.Store = false

	raw := bleve.NewTextFieldMapping()
	raw.Index = false
	raw.Store = true

	docID := bleve.NewTextFieldMapping()
	docID.Analyzer = keyword.Name
	docID.Store = true

	idx := bleve.NewNumericFieldMapping()
	idx.Store = true

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("namespace", ns)
	doc.AddFieldMappingsAt("raw_namespace", raw)
	doc.AddFieldMappingsAt("document_id", docID)
	doc.AddFieldMappingsAt("chunk_index", idx)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = TermAnalyzerName
	return im, nil
}

// validateIndexMeta checks that an existing index has a readable index_meta.json.
func validateIndexMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// Index adds or replaces chunks.
func (b *BleveSparseStore) Index(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := bleveChunk{
			Text:       c.Text,
			Namespace:  NamespaceKey(c.Namespace),
			RawNS:      c.Namespace,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
		}
		if err := batch.Index(docKey(c.Namespace, c.ID), doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// QuerySparse scores chunks of namespace against the weighted terms. Terms
// with non-positive weight are ignored; an empty vector matches nothing.
func (b *BleveSparseStore) QuerySparse(ctx context.Context, sv SparseVector, namespace string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	terms := make([]string, 0, len(sv))
	for term, w := range sv {
		if w > 0 && strings.TrimSpace(term) != "" {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 || limit <= 0 {
		return []Hit{}, nil
	}
	sort.Strings(terms)

	should := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		tq := bleve.NewTermQuery(strings.ToLower(term))
		tq.SetField("text")
		tq.SetBoost(float64(sv[term]))
		should = append(should, tq)
	}
	disj := bleve.NewDisjunctionQuery(should...)
	disj.SetMin(1)

	nsq := bleve.NewTermQuery(NamespaceKey(namespace))
	nsq.SetField("namespace")

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(disj, nsq), limit, 0, false)
	req.Fields = bleveFields

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sparse search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		_, id := splitDocKey(h.ID)
		hit := Hit{ID: id, Score: h.Score}
		if v, ok := h.Fields["text"].(string); ok {
			hit.Text = v
		}
		if v, ok := h.Fields["raw_namespace"].(string); ok {
			hit.Namespace = v
		}
		if v, ok := h.Fields["document_id"].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := h.Fields["chunk_index"].(float64); ok {
			hit.ChunkIndex = int(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (b *BleveSparseStore) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}
	n, err := b.index.DocCount()
	return int(n), err
}

// Close closes the index.
func (b *BleveSparseStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ SparseStore = (*BleveSparseStore)(nil)

// docKey makes chunk ids unique across namespaces.
func docKey(namespace, id string) string {
	return NamespaceKey(namespace) + "\x00" + id
}

func splitDocKey(key string) (namespace, id string) {
	if i := strings.IndexByte(key, 0); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

func termTokenizerConstructor(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
	return termTokenizer{}, nil
}

// termTokenizer runs Tokenize so indexed terms match TermWeightEncoder output.
type termTokenizer struct{}

func (termTokenizer) Tokenize(input []byte) analysis.TokenStream {
	tokens := Tokenize(string(input))
	stream := make(analysis.TokenStream, 0, len(tokens))
	for i, tok := range tokens {
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}

func termStopFilterConstructor(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
	return termStopFilter{}, nil
}

type termStopFilter struct{}

func (termStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if !IsStopWord(string(tok.Term)) {
			out = append(out, tok)
		}
	}
	return out
}
