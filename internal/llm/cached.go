package llm

import (
	"context"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of cached answers per operation.
const DefaultCacheSize = 2000

// CachedGenerator memoizes successful Generator answers in LRU caches.
// Errors are never cached.
type CachedGenerator struct {
	inner    Generator
	entities *lru.Cache[string, []string]
	synonyms *lru.Cache[string, []string]
}

// NewCachedGenerator wraps inner. size <= 0 means DefaultCacheSize.
func NewCachedGenerator(inner Generator, size int) *CachedGenerator {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entities, _ := lru.New[string, []string](size)
	synonyms, _ := lru.New[string, []string](size)
	return &CachedGenerator{inner: inner, entities: entities, synonyms: synonyms}
}

var _ Generator = (*CachedGenerator)(nil)

func (c *CachedGenerator) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	key := strings.TrimSpace(text)
	if v, ok := c.entities.Get(key); ok {
		return clone(v), nil
	}
	v, err := c.inner.ExtractEntities(ctx, text)
	if err != nil {
		return nil, err
	}
	c.entities.Add(key, clone(v))
	return v, nil
}

func (c *CachedGenerator) GenerateSynonyms(ctx context.Context, entity string, max int) ([]string, error) {
	key := strconv.Itoa(max) + "\x00" + strings.ToLower(strings.TrimSpace(entity))
	if v, ok := c.synonyms.Get(key); ok {
		return clone(v), nil
	}
	v, err := c.inner.GenerateSynonyms(ctx, entity, max)
	if err != nil {
		return nil, err
	}
	c.synonyms.Add(key, clone(v))
	return v, nil
}

// Purge drops every cached answer.
func (c *CachedGenerator) Purge() {
	c.entities.Purge()
	c.synonyms.Purge()
}

func clone(v []string) []string {
	return append([]string(nil), v...)
}
