package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"specgraph/internal/cache"
	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/retrieval"
	"specgraph/internal/retry"
)

const DefaultPath = "specgraph.yaml"

type Config struct {
	Data struct {
		GraphDB     string `yaml:"graph_db"`
		CacheFile   string `yaml:"cache_file"`
		ChangesFile string `yaml:"changes_file"`
	} `yaml:"data"`
	AI struct {
		Provider        string        `yaml:"provider"`
		Model           string        `yaml:"model"`            // embedding model
		CompletionModel string        `yaml:"completion_model"` // LLM model for answers and titles
		APIKey          string        `yaml:"api_key"`
		BaseURL         string        `yaml:"base_url"`
		Dimension       int           `yaml:"dimension"`
		Timeout         time.Duration `yaml:"timeout"`
	} `yaml:"ai"`
	Graph struct {
		DanglingEdges string `yaml:"dangling_edges"` // keep | drop | flag
	} `yaml:"graph"`
	Retrieval struct {
		NeighborLimit int `yaml:"neighbor_limit"`
		SnippetLength int `yaml:"snippet_length"`
	} `yaml:"retrieval"`
	Cache struct {
		MaxSize        int     `yaml:"max_size"`
		FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	} `yaml:"cache"`
	Query struct {
		Timeout     time.Duration `yaml:"timeout"`
		Temperature float32       `yaml:"temperature"`
	} `yaml:"query"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Summarize struct {
		Attempts    int           `yaml:"attempts"`
		Delay       time.Duration `yaml:"delay"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"summarize"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Neo4j struct {
		URI      string `yaml:"uri"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"neo4j"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Data.GraphDB = ".specgraph/graph.db"
	cfg.Data.CacheFile = ".specgraph/cache.yaml"
	cfg.Data.ChangesFile = "changes.json"
	cfg.AI.Provider = "gemini"
	cfg.AI.Model = "text-embedding-004"
	cfg.AI.CompletionModel = "gemini-2.0-flash"
	cfg.AI.Timeout = 30 * time.Second
	cfg.Graph.DanglingEdges = string(graph.DanglingFlag)
	cfg.Retrieval.NeighborLimit = retrieval.DefaultConfig().NeighborLimit
	cfg.Retrieval.SnippetLength = retrieval.DefaultConfig().SnippetLength
	cfg.Cache.MaxSize = cache.DefaultMaxSize
	cfg.Cache.FuzzyThreshold = cache.DefaultFuzzyThreshold
	cfg.Query.Timeout = 60 * time.Second
	cfg.Query.Temperature = 0.4
	cfg.Server.Addr = ":8080"
	cfg.Summarize.Attempts = 3
	cfg.Summarize.Delay = 2 * time.Second
	cfg.Summarize.Concurrency = 4
	cfg.Log.Level = "info"
	cfg.Neo4j.Database = "neo4j"
	return &cfg
}

// LoadConfig reads path on top of the defaults. A missing file is not an
// error. Environment variables (optionally from .env) override the file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if apiKey := os.Getenv("SPECGRAPH_API_KEY"); apiKey != "" {
		c.AI.APIKey = apiKey
	}
	if provider := os.Getenv("SPECGRAPH_AI_PROVIDER"); provider != "" {
		c.AI.Provider = provider
	}
	if c.AI.APIKey == "" && strings.EqualFold(c.AI.Provider, "openai") {
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if pw := os.Getenv("SPECGRAPH_NEO4J_PASSWORD"); pw != "" {
		c.Neo4j.Password = pw
	}
}

func (c *Config) Validate() error {
	if _, err := graph.ParseDanglingPolicy(c.Graph.DanglingEdges); err != nil {
		return err
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.FuzzyThreshold <= 0 || c.Cache.FuzzyThreshold > 1 {
		return fmt.Errorf("cache.fuzzy_threshold must be in (0, 1], got %v", c.Cache.FuzzyThreshold)
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive, got %s", c.Query.Timeout)
	}
	if c.Retrieval.NeighborLimit < 0 || c.Retrieval.SnippetLength <= 0 {
		return fmt.Errorf("retrieval limits must be non-negative (neighbor_limit=%d, snippet_length=%d)",
			c.Retrieval.NeighborLimit, c.Retrieval.SnippetLength)
	}
	return nil
}

func (c *Config) DanglingPolicy() graph.DanglingPolicy {
	p, err := graph.ParseDanglingPolicy(c.Graph.DanglingEdges)
	if err != nil {
		return graph.DanglingFlag
	}
	return p
}

func (c *Config) EmbedderOptions() knowledge.EmbedderOptions {
	return knowledge.EmbedderOptions{
		Provider:  c.AI.Provider,
		APIKey:    c.AI.APIKey,
		Model:     c.AI.Model,
		Dimension: c.AI.Dimension,
		BaseURL:   c.AI.BaseURL,
		Timeout:   c.AI.Timeout,
	}
}

func (c *Config) CompleterOptions() knowledge.CompleterOptions {
	return knowledge.CompleterOptions{
		Provider: c.AI.Provider,
		APIKey:   c.AI.APIKey,
		Model:    c.AI.CompletionModel,
		BaseURL:  c.AI.BaseURL,
		Timeout:  c.AI.Timeout,
	}
}

// EmbeddingKey identifies the vector space stored corpus embeddings belong to.
func (c *Config) EmbeddingKey() string {
	return fmt.Sprintf("%s:%s:%d", strings.ToLower(c.AI.Provider), c.AI.Model, c.AI.Dimension)
}

func (c *Config) RetrievalConfig() retrieval.Config {
	return retrieval.Config{
		NeighborLimit: c.Retrieval.NeighborLimit,
		SnippetLength: c.Retrieval.SnippetLength,
	}
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		MaxSize:        c.Cache.MaxSize,
		FuzzyThreshold: c.Cache.FuzzyThreshold,
	}
}

func (c *Config) SummarizePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Summarize.Attempts,
		Delay:       c.Summarize.Delay,
	}
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
	}
}
