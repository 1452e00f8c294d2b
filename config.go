package ouroboros

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/zoobzio/zyn"
	"gopkg.in/yaml.v3"
)

// Default configuration for ouroboros primitives.
// These can be overridden per engine or per primitive.
var (
	// DefaultTopK is the number of episodes a memory-wrapped step recalls
	// when configured from a file without an explicit value.
	DefaultTopK = 5

	// DefaultMinSimilarity is the recall threshold for memory-wrapped steps.
	DefaultMinSimilarity = 0.5

	// DefaultDurability treats memory as best-effort: a failed recall or
	// store never changes the wrapped step's result.
	DefaultDurability = BestEffort

	// DefaultSnapshotLimit bounds the input snapshot attached to failures.
	DefaultSnapshotLimit = 256

	// DefaultReasoningTemperature is used by the LLM-backed branch primitives.
	DefaultReasoningTemperature = zyn.DefaultTemperatureDeterministic

	// DefaultReflectionTemperature is used when summarizing branch history.
	DefaultReflectionTemperature = zyn.DefaultTemperatureCreative
)

// Store drivers accepted by Config.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the file form of an engine configuration.
//
//	store:
//	  driver: redis
//	  endpoint: redis://localhost:6379/0
//	  collection: support-agent
//	memory:
//	  top_k: 5
//	  min_similarity: 0.6
//	  durability: required
//	  consolidate_after: 720h
//	embedder:
//	  model: text-embedding-3-small
//	  dimensions: 1536
//	  api_key_env: OPENAI_API_KEY
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Memory   MemoryConfig   `yaml:"memory"`
	Embedder EmbedderConfig `yaml:"embedder"`
}

// StoreConfig selects the episode store.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	Endpoint   string `yaml:"endpoint"`
	Collection string `yaml:"collection"`
}

// MemoryConfig tunes recall and durability. MinSimilarity is a pointer
// so an explicit 0 is told apart from an omitted key.
type MemoryConfig struct {
	TopK             int      `yaml:"top_k"`
	MinSimilarity    *float64 `yaml:"min_similarity"`
	Durability       string   `yaml:"durability"`
	ConsolidateAfter string   `yaml:"consolidate_after"`
}

// EmbedderConfig selects the OpenAI-compatible embedder. An empty model
// leaves embedder resolution to the context or global default.
type EmbedderConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults, and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "default"
	}
	if c.Memory.TopK == 0 {
		c.Memory.TopK = DefaultTopK
	}
	if c.Memory.MinSimilarity == nil {
		threshold := DefaultMinSimilarity
		c.Memory.MinSimilarity = &threshold
	}
	if c.Memory.Durability == "" {
		c.Memory.Durability = DefaultDurability.String()
	}
	if c.Embedder.Model != "" && c.Embedder.Dimensions == 0 {
		switch c.Embedder.Model {
		case ModelTextEmbedding3Large:
			c.Embedder.Dimensions = DimensionsTextEmbedding3L
		default:
			c.Embedder.Dimensions = DimensionsAda002
		}
	}
	if c.Embedder.APIKeyEnv == "" {
		c.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
}

// Validate reports the first problem with the configuration.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverRedis:
		if c.Store.Endpoint == "" {
			return fmt.Errorf("%w: store driver %q requires an endpoint", ErrInvalidConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Memory.TopK < 0 {
		return fmt.Errorf("%w: memory.top_k must not be negative, got %d", ErrInvalidConfig, c.Memory.TopK)
	}
	if threshold := c.Memory.RecallThreshold(); threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: memory.min_similarity must be within [0, 1], got %v", ErrInvalidConfig, threshold)
	}
	if _, err := ParseDurability(c.Memory.Durability); err != nil {
		return err
	}
	if _, err := c.Memory.ConsolidationAge(); err != nil {
		return err
	}
	return nil
}

// RecallThreshold returns min_similarity, or DefaultMinSimilarity when unset.
func (m MemoryConfig) RecallThreshold() float64 {
	if m.MinSimilarity == nil {
		return DefaultMinSimilarity
	}
	return *m.MinSimilarity
}

// ConsolidationAge parses consolidate_after. Zero means not configured.
func (m MemoryConfig) ConsolidationAge() (time.Duration, error) {
	if strings.TrimSpace(m.ConsolidateAfter) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.ConsolidateAfter)
	if err != nil {
		return 0, fmt.Errorf("%w: memory.consolidate_after: %w", ErrInvalidConfig, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: memory.consolidate_after must not be negative", ErrInvalidConfig)
	}
	return d, nil
}

// Open builds an engine from cfg, connecting the configured store.
// Close the engine to release the store.
func Open(ctx context.Context, cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	durability, _ := ParseDurability(cfg.Memory.Durability)
	age, _ := cfg.Memory.ConsolidationAge()
	base := []EngineOption{
		WithDurability(durability),
		WithRecallLimit(cfg.Memory.TopK),
		WithRecallThreshold(cfg.Memory.RecallThreshold()),
		WithConsolidationAge(age),
	}
	if cfg.Embedder.Model != "" {
		embedderOpts := []OpenAIEmbedderOption{WithEmbeddingModel(cfg.Embedder.Model, cfg.Embedder.Dimensions)}
		if cfg.Embedder.BaseURL != "" {
			embedderOpts = append(embedderOpts, WithEmbedderBaseURL(cfg.Embedder.BaseURL))
		}
		base = append(base, WithEngineEmbedder(NewOpenAIEmbedder(os.Getenv(cfg.Embedder.APIKeyEnv), embedderOpts...)))
	}

	return NewEngine(store, append(base, opts...)...), nil
}

func openStore(ctx context.Context, cfg StoreConfig) (EpisodeStore, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewInMemoryEpisodeStore(), nil
	case DriverSQLite:
		return OpenSQLiteEpisodeStore(ctx, cfg.Endpoint, cfg.Collection)
	case DriverPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store, err := NewSoyEpisodeStore(db, cfg.Collection)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	case DriverRedis:
		return OpenRedisEpisodeStore(ctx, cfg.Endpoint, cfg.Collection)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.Driver)
	}
}
