package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// Config selects and tunes an embedder.
type Config struct {
	Provider   ProviderType
	Host       string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	// CacheSize is the LRU size; negative disables the cache.
	CacheSize int

	// FallbackToStatic substitutes the static embedder when Ollama is
	// unreachable at startup. Off by default: a silent switch changes the
	// vector space the stores were built with.
	FallbackToStatic bool
}

// NewEmbedder creates the configured embedder, wrapped in an LRU cache
// unless CacheSize is negative.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch cfg.Provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama, "":
		embedder, err = newOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: %s)",
			cfg.Provider, strings.Join(ValidProviders(), ", "))
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}

func newOllama(ctx context.Context, cfg Config) (Embedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.Host != "" {
		oc.Host = cfg.Host
	}
	if cfg.Model != "" {
		oc.Model = cfg.Model
	}
	if cfg.BatchSize > 0 {
		oc.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		oc.Timeout = cfg.Timeout
	}
	oc.Dimensions = cfg.Dimensions

	embedder, err := NewOllamaEmbedder(ctx, oc)
	if err == nil {
		return embedder, nil
	}
	if !cfg.FallbackToStatic {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Pull the model: ollama pull %s\n  3. Or set embeddings.provider: static", err, oc.Model)
	}

	slog.Warn("ollama_unavailable_using_static",
		slog.String("host", oc.Host),
		slog.String("error", err.Error()))
	return NewStaticEmbedder(cfg.Dimensions), nil
}

// ParseProvider converts a string to a ProviderType. Unknown names map to
// Ollama.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo describes an embedder for status output.
type EmbedderInfo struct {
	Provider   ProviderType `json:"provider"`
	Model      string       `json:"model"`
	Dimensions int          `json:"dimensions"`
	Available  bool         `json:"available"`
	Cached     bool         `json:"cached"`
}

// GetInfo returns information about an embedder.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
		Provider:   ProviderStatic,
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
		info.Cached = true
	}
	if _, ok := inner.(*OllamaEmbedder); ok {
		info.Provider = ProviderOllama
	}
	return info
}
