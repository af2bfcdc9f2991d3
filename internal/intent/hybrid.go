package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// DefaultCacheSize is the number of cached classifications.
const DefaultCacheSize = 10000

// HybridClassifier tries the LLM first and falls back to patterns. Results
// are cached by normalized query text.
type HybridClassifier struct {
	llm      retrieval.IntentClassifier
	patterns *PatternClassifier
	cache    *lru.Cache[string, retrieval.Classification]
}

// NewHybridClassifier creates a hybrid classifier. A nil llm means
// patterns only. cacheSize <= 0 means DefaultCacheSize.
func NewHybridClassifier(llm retrieval.IntentClassifier, presets Presets, cacheSize int) *HybridClassifier {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, retrieval.Classification](cacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(presets),
		cache:    cache,
	}
}

// Classify implements retrieval.IntentClassifier. It fails only when ctx
// is canceled during the LLM call.
func (h *HybridClassifier) Classify(ctx context.Context, query string) (retrieval.Classification, error) {
	key := normalizeQuery(query)
	if key == "" {
		return h.patterns.Classify(ctx, query)
	}
	if c, ok := h.cache.Get(key); ok {
		return c, nil
	}

	if h.llm != nil {
		c, err := h.llm.Classify(ctx, query)
		if err == nil {
			h.cache.Add(key, c)
			return c, nil
		}
		if errors.Is(err, context.Canceled) {
			return retrieval.Classification{}, err
		}
		slog.Debug("llm classification failed, using patterns", slog.String("error", err.Error()))
	}

	c, _ := h.patterns.Classify(ctx, query)
	h.cache.Add(key, c)
	return c, nil
}

// Purge empties the cache.
func (h *HybridClassifier) Purge() {
	h.cache.Purge()
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

var _ retrieval.IntentClassifier = (*HybridClassifier)(nil)
