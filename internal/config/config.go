package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the fuseline API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Backend   BackendConfig   `yaml:"backend"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings. Shared by the redis
// retrieval backend and the L2/L3 cache tiers.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// BackendConfig holds retrieval index settings.
type BackendConfig struct {
	Driver string `yaml:"driver"` // redis, memory (default: redis)
	// IndexName is the FT index all three signals query (redis driver).
	IndexName string `yaml:"index_name"`
	// KeyPrefix is stripped from document keys to recover item IDs.
	KeyPrefix string `yaml:"key_prefix"`
	// TiebreakField orders filter-signal matches, descending.
	TiebreakField string `yaml:"tiebreak_field"`
	// Dimensions is the embedding dimensionality (memory driver).
	Dimensions int `yaml:"dimensions"`
}

// PipelineConfig holds fusion and orchestration settings.
type PipelineConfig struct {
	RRFK            int                `yaml:"rrf_k"`
	Weights         map[string]float64 `yaml:"weights"`
	SoftBudgetMS    int                `yaml:"soft_budget_ms"`
	HardBudgetMS    int                `yaml:"hard_budget_ms"`
	SignalTimeoutMS int                `yaml:"signal_timeout_ms"`
	MaxConcurrency  int                `yaml:"max_concurrency"`
}

// ExpansionConfig holds query expansion settings.
type ExpansionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Model       string `yaml:"model"`
	MaxVariants int    `yaml:"max_variants"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

// RerankConfig holds re-ranking settings.
type RerankConfig struct {
	Enabled bool `yaml:"enabled"`
	// External enables the LLM scorer on top of the heuristic.
	External  bool   `yaml:"external"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
	MaxTurns   int    `yaml:"max_turns"`
}

// CacheConfig holds the response cache tiers and invalidation settings.
type CacheConfig struct {
	Enabled      bool               `yaml:"enabled"`
	L1Size       int                `yaml:"l1_size"`
	L1TTLSec     int                `yaml:"l1_ttl_sec"`
	L2TTLSec     int                `yaml:"l2_ttl_sec"`
	L3TTLSec     int                `yaml:"l3_ttl_sec"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
}

// InvalidationConfig holds the NATS event consumer settings.
type InvalidationConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Backend.Driver == "" {
		c.Backend.Driver = "redis"
	}
	if c.Backend.IndexName == "" {
		c.Backend.IndexName = "fuseline-items"
	}
	if c.Backend.KeyPrefix == "" {
		c.Backend.KeyPrefix = "item:"
	}
	if c.Backend.Dimensions <= 0 {
		c.Backend.Dimensions = 1024
	}
	if c.Pipeline.RRFK <= 0 {
		c.Pipeline.RRFK = 60
	}
	if c.Pipeline.SoftBudgetMS <= 0 {
		c.Pipeline.SoftBudgetMS = 800
	}
	if c.Pipeline.HardBudgetMS <= 0 {
		c.Pipeline.HardBudgetMS = 2000
	}
	if c.Pipeline.SignalTimeoutMS <= 0 {
		c.Pipeline.SignalTimeoutMS = 500
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		c.Pipeline.MaxConcurrency = 8
	}
	if c.Expansion.MaxVariants <= 0 {
		c.Expansion.MaxVariants = 3
	}
	if c.Expansion.TimeoutMS <= 0 {
		c.Expansion.TimeoutMS = 2000
	}
	if c.Rerank.TimeoutMS <= 0 {
		c.Rerank.TimeoutMS = 2000
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 4096
	}
	if c.Embedding.MaxTurns <= 0 {
		c.Embedding.MaxTurns = 16
	}
	if c.Cache.L1Size <= 0 {
		c.Cache.L1Size = 1024
	}
	if c.Cache.L1TTLSec <= 0 {
		c.Cache.L1TTLSec = 60
	}
	if c.Cache.L2TTLSec <= 0 {
		c.Cache.L2TTLSec = 300
	}
	if c.Cache.L3TTLSec <= 0 {
		c.Cache.L3TTLSec = 3600
	}
	if c.Cache.Invalidation.Subject == "" {
		c.Cache.Invalidation.Subject = "fuseline.items.updated"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Backend.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis backend")
		}
	case "memory":
		// no external dependencies
	default:
		return fmt.Errorf("backend.driver must be \"redis\" or \"memory\", got %q", c.Backend.Driver)
	}
	for name, w := range c.Pipeline.Weights {
		switch name {
		case "vector", "lexical", "filter":
			// ok
		default:
			return fmt.Errorf("pipeline.weights has unknown signal %q", name)
		}
		if w < 0 {
			return fmt.Errorf("pipeline.weights.%s must be >= 0, got %g", name, w)
		}
	}
	if c.Pipeline.SoftBudgetMS > c.Pipeline.HardBudgetMS {
		return fmt.Errorf("pipeline.soft_budget_ms must not exceed hard_budget_ms")
	}
	if c.Cache.Invalidation.Enabled && c.Cache.Invalidation.URL == "" {
		return fmt.Errorf("cache.invalidation.url is required when invalidation is enabled")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
