// Package config loads amanrag configuration from defaults, the user file,
// the project file and AMANRAG_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/expand"
	"github.com/Aman-CERP/amanrag/internal/intent"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// Project config file names, in order of preference.
const (
	ProjectFileName    = ".amanrag.yaml"
	ProjectFileNameAlt = ".amanrag.yml"
)

// Config is the complete amanrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Expansion  ExpansionConfig  `yaml:"expansion" json:"expansion"`
	Intent     IntentConfig     `yaml:"intent" json:"intent"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Stores     StoresConfig     `yaml:"stores" json:"stores"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// RetrievalConfig tunes fanout and fusion. Durations use Go syntax ("500ms").
type RetrievalConfig struct {
	RRFK              int      `yaml:"rrf_k" json:"rrf_k"`
	Deadline          string   `yaml:"deadline" json:"deadline"`
	MaxDeadline       string   `yaml:"max_deadline" json:"max_deadline"`
	DefaultTopK       int      `yaml:"default_top_k" json:"default_top_k"`
	MaxTopK           int      `yaml:"max_top_k" json:"max_top_k"`
	SourceLimit       int      `yaml:"source_limit" json:"source_limit"`
	MaxQueryLength    int      `yaml:"max_query_length" json:"max_query_length"`
	AllowedNamespaces []string `yaml:"allowed_namespaces" json:"allowed_namespaces"`

	// BreakerFailures opens a source's circuit after this many consecutive
	// failures; BreakerReset is how long it stays open.
	BreakerFailures int    `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    string `yaml:"breaker_reset" json:"breaker_reset"`
}

// ExpansionConfig tunes entity expansion.
type ExpansionConfig struct {
	Hops          int    `yaml:"hops" json:"hops"`
	MinEntities   int    `yaml:"min_entities" json:"min_entities"`
	MaxSynonyms   int    `yaml:"max_synonyms" json:"max_synonyms"`
	RerankEnabled bool   `yaml:"rerank_enabled" json:"rerank_enabled"`
	RerankTopK    int    `yaml:"rerank_top_k" json:"rerank_top_k"`
	MaxEntities   int    `yaml:"max_entities" json:"max_entities"`
	StageTimeout  string `yaml:"stage_timeout" json:"stage_timeout"`
}

// IntentConfig selects the classifier and its weight presets.
type IntentConfig struct {
	// Classifier is "hybrid", "llm", "pattern" or "none".
	Classifier string                             `yaml:"classifier" json:"classifier"`
	CacheSize  int                                `yaml:"cache_size" json:"cache_size"`
	Presets    map[string]retrieval.IntentWeights `yaml:"presets" json:"presets"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider         string `yaml:"provider" json:"provider"`
	Model            string `yaml:"model" json:"model"`
	OllamaHost       string `yaml:"ollama_host" json:"ollama_host"`
	Dimensions       int    `yaml:"dimensions" json:"dimensions"`
	BatchSize        int    `yaml:"batch_size" json:"batch_size"`
	Timeout          string `yaml:"timeout" json:"timeout"`
	CacheSize        int    `yaml:"cache_size" json:"cache_size"`
	FallbackToStatic bool   `yaml:"fallback_to_static" json:"fallback_to_static"`
}

// LLMConfig configures the generation model used for entity extraction,
// synonyms and intent classification.
type LLMConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// StoresConfig selects store backends.
type StoresConfig struct {
	// Vector is "local" (HNSW + bleve under DataDir) or "pgvector".
	Vector        string `yaml:"vector" json:"vector"`
	PostgresDSN   string `yaml:"postgres_dsn" json:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table" json:"postgres_table"`
	HNSWM         int    `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch  int    `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// ServerConfig configures process-level behaviour.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	QueryLog    int    `yaml:"query_log" json:"query_log"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	ec := retrieval.DefaultConfig()
	xc := expand.DefaultConfig()
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Retrieval: RetrievalConfig{
			RRFK:            ec.RRFConstant,
			Deadline:        ec.Deadline.String(),
			MaxDeadline:     ec.MaxDeadline.String(),
			DefaultTopK:     ec.DefaultTopK,
			MaxTopK:         ec.MaxTopK,
			SourceLimit:     ec.SourceLimit,
			MaxQueryLength:  ec.MaxQueryLength,
			BreakerFailures: 5,
			BreakerReset:    "30s",
		},
		Expansion: ExpansionConfig{
			Hops:          xc.Hops,
			MinEntities:   xc.MinEntities,
			MaxSynonyms:   xc.MaxSynonyms,
			RerankEnabled: xc.RerankEnabled,
			RerankTopK:    xc.RerankTopK,
			MaxEntities:   xc.MaxEntities,
			StageTimeout:  "0s",
		},
		Intent: IntentConfig{
			Classifier: "hybrid",
			CacheSize:  intent.DefaultCacheSize,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   string(embed.ProviderOllama),
			Model:      embed.DefaultOllamaModel,
			OllamaHost: embed.DefaultOllamaHost,
			BatchSize:  embed.DefaultBatchSize,
			Timeout:    embed.DefaultTimeout.String(),
			CacheSize:  embed.DefaultEmbeddingCacheSize,
		},
		LLM: LLMConfig{
			Enabled:    true,
			Model:      llm.DefaultModel,
			OllamaHost: llm.DefaultHost,
			Timeout:    llm.DefaultTimeout.String(),
			CacheSize:  llm.DefaultCacheSize,
		},
		Stores: StoresConfig{
			Vector:        "local",
			PostgresTable: "amanrag_chunks",
			HNSWM:         16,
			HNSWEfSearch:  64,
		},
		Server: ServerConfig{
			LogLevel: "info",
			QueryLog: 100,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/amanrag/config.yaml, or
// ~/.config/amanrag/config.yaml when XDG_CONFIG_HOME is unset.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// GetUserConfigDir returns the directory holding the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// ProjectConfigPath returns the project config in dir, preferring .yaml
// over .yml, or "" when neither exists.
func ProjectConfigPath(dir string) string {
	if dir == "" {
		return ""
	}
	for _, name := range []string{ProjectFileName, ProjectFileNameAlt} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load builds the configuration for a project directory:
//  1. defaults
//  2. user config
//  3. dir/.amanrag.yaml
//  4. AMANRAG_* environment variables
//
// The result is validated.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(GetUserConfigPath(), true); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if path := ProjectConfigPath(dir); path != "" {
		if err := cfg.loadYAML(path, false); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults plus one explicit file and env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path, false); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current value, so explicit zero values are honoured. Unknown keys are
// rejected.
func (c *Config) loadYAML(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variables. Malformed
// numeric values are an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"AMANRAG_DATA_DIR":            &c.DataDir,
		"AMANRAG_DEADLINE":            &c.Retrieval.Deadline,
		"AMANRAG_INTENT_CLASSIFIER":   &c.Intent.Classifier,
		"AMANRAG_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"AMANRAG_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"AMANRAG_LLM_MODEL":           &c.LLM.Model,
		"AMANRAG_VECTOR_STORE":        &c.Stores.Vector,
		"AMANRAG_POSTGRES_DSN":        &c.Stores.PostgresDSN,
		"AMANRAG_LOG_LEVEL":           &c.Server.LogLevel,
		"AMANRAG_METRICS_ADDR":        &c.Server.MetricsAddr,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	// One host for both Ollama clients.
	if v := os.Getenv("AMANRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.OllamaHost = v
	}

	ints := map[string]*int{
		"AMANRAG_RRF_K":           &c.Retrieval.RRFK,
		"AMANRAG_TOP_K":           &c.Retrieval.DefaultTopK,
		"AMANRAG_SOURCE_LIMIT":    &c.Retrieval.SourceLimit,
		"AMANRAG_EXPANSION_HOPS":  &c.Expansion.Hops,
		"AMANRAG_EMBEDDINGS_DIMS": &c.Embeddings.Dimensions,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"AMANRAG_LLM_ENABLED":    &c.LLM.Enabled,
		"AMANRAG_RERANK_ENABLED": &c.Expansion.RerankEnabled,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", key, v)
		}
		*dst = b
	}
	return nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if _, err := c.ExpansionConfig(); err != nil {
		return err
	}
	if _, err := c.IntentPresets(); err != nil {
		return err
	}
	if _, _, err := c.BreakerSettings(); err != nil {
		return err
	}
	switch strings.ToLower(c.Intent.Classifier) {
	case "hybrid", "llm", "pattern", "none":
	default:
		return fmt.Errorf("intent.classifier must be 'hybrid', 'llm', 'pattern' or 'none', got %q", c.Intent.Classifier)
	}
	if strings.ToLower(c.Intent.Classifier) == "llm" && !c.LLM.Enabled {
		return fmt.Errorf("intent.classifier 'llm' requires llm.enabled")
	}

	if !embed.IsValidProvider(c.Embeddings.Provider) {
		return fmt.Errorf("embeddings.provider must be one of %s, got %q",
			strings.Join(embed.ValidProviders(), ", "), c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 0 || c.Embeddings.BatchSize > embed.MaxBatchSize {
		return fmt.Errorf("embeddings.batch_size must be 0-%d, got %d", embed.MaxBatchSize, c.Embeddings.BatchSize)
	}
	if _, err := parseDuration("embeddings.timeout", c.Embeddings.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("llm.timeout", c.LLM.Timeout); err != nil {
		return err
	}

	switch c.Stores.Vector {
	case "local":
	case "pgvector":
		if c.Stores.PostgresDSN == "" {
			return fmt.Errorf("stores.postgres_dsn is required when stores.vector is 'pgvector'")
		}
	default:
		return fmt.Errorf("stores.vector must be 'local' or 'pgvector', got %q", c.Stores.Vector)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if c.Server.QueryLog < 0 {
		return fmt.Errorf("server.query_log must be non-negative, got %d", c.Server.QueryLog)
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", field, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// EngineConfig converts the retrieval section.
func (c *Config) EngineConfig() (retrieval.EngineConfig, error) {
	r := c.Retrieval
	deadline, err := parseDuration("retrieval.deadline", r.Deadline)
	if err != nil {
		return retrieval.EngineConfig{}, err
	}
	maxDeadline, err := parseDuration("retrieval.max_deadline", r.MaxDeadline)
	if err != nil {
		return retrieval.EngineConfig{}, err
	}
	ec := retrieval.DefaultConfig()
	ec.RRFConstant = r.RRFK
	ec.Deadline = deadline
	ec.MaxDeadline = maxDeadline
	ec.DefaultTopK = r.DefaultTopK
	ec.MaxTopK = r.MaxTopK
	ec.SourceLimit = r.SourceLimit
	ec.MaxQueryLength = r.MaxQueryLength
	ec.AllowedNamespaces = append([]string(nil), r.AllowedNamespaces...)

	presets, err := c.IntentPresets()
	if err != nil {
		return retrieval.EngineConfig{}, err
	}
	ec.DefaultWeights = presets[intent.LabelMixed]

	if err := ec.Validate(); err != nil {
		return retrieval.EngineConfig{}, fmt.Errorf("retrieval: %w", err)
	}
	return ec, nil
}

// BreakerSettings returns the circuit breaker threshold and reset timeout.
func (c *Config) BreakerSettings() (int, time.Duration, error) {
	if c.Retrieval.BreakerFailures < 1 {
		return 0, 0, fmt.Errorf("retrieval.breaker_failures must be positive, got %d", c.Retrieval.BreakerFailures)
	}
	reset, err := parseDuration("retrieval.breaker_reset", c.Retrieval.BreakerReset)
	if err != nil {
		return 0, 0, err
	}
	return c.Retrieval.BreakerFailures, reset, nil
}

// ExpansionConfig converts the expansion section.
func (c *Config) ExpansionConfig() (expand.Config, error) {
	x := c.Expansion
	stage, err := parseDuration("expansion.stage_timeout", x.StageTimeout)
	if err != nil {
		return expand.Config{}, err
	}
	xc := expand.Config{
		Hops:          x.Hops,
		MinEntities:   x.MinEntities,
		MaxSynonyms:   x.MaxSynonyms,
		RerankEnabled: x.RerankEnabled,
		RerankTopK:    x.RerankTopK,
		MaxEntities:   x.MaxEntities,
		StageTimeout:  stage,
	}
	if err := xc.Validate(); err != nil {
		return expand.Config{}, err
	}
	return xc, nil
}

// IntentPresets returns the built-in presets with configured overrides.
func (c *Config) IntentPresets() (intent.Presets, error) {
	p, err := intent.DefaultPresets().Merge(c.Intent.Presets)
	if err != nil {
		return nil, fmt.Errorf("intent.presets: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EmbedConfig converts the embeddings section.
func (c *Config) EmbedConfig() embed.Config {
	timeout, _ := parseDuration("embeddings.timeout", c.Embeddings.Timeout)
	return embed.Config{
		Provider:         embed.ParseProvider(c.Embeddings.Provider),
		Host:             c.Embeddings.OllamaHost,
		Model:            c.Embeddings.Model,
		Dimensions:       c.Embeddings.Dimensions,
		BatchSize:        c.Embeddings.BatchSize,
		Timeout:          timeout,
		CacheSize:        c.Embeddings.CacheSize,
		FallbackToStatic: c.Embeddings.FallbackToStatic,
	}
}

// LLMClientConfig converts the llm section.
func (c *Config) LLMClientConfig() llm.Config {
	lc := llm.DefaultConfig()
	lc.Host = c.LLM.OllamaHost
	lc.Model = c.LLM.Model
	if d, err := parseDuration("llm.timeout", c.LLM.Timeout); err == nil && d > 0 {
		lc.Timeout = d
	}
	return lc
}

// Paths of the local stores under DataDir.
func (c *Config) DensePath() string  { return filepath.Join(c.DataDir, "dense.gob") }
func (c *Config) SparsePath() string { return filepath.Join(c.DataDir, "sparse.bleve") }
func (c *Config) GraphPath() string  { return filepath.Join(c.DataDir, "graph.db") }

// EncodeYAML renders the configuration as YAML with two-space indents.
func (c *Config) EncodeYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
