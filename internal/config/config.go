package config

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Economics EconomicsConfig `yaml:"economics"`
	Detector  DetectorConfig  `yaml:"detector"`
	Routing   RoutingConfig   `yaml:"routing"`
	Policy    PolicyConfig    `yaml:"policy"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// EmbeddingConfig configures the embedding provider client.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// CacheConfig configures the three cache tiers.
type CacheConfig struct {
	ExactTTL         time.Duration `yaml:"exact_ttl"`
	SemanticTTL      time.Duration `yaml:"semantic_ttl"`
	IntermediateTTL  time.Duration `yaml:"intermediate_ttl"`
	SemanticTopK     int           `yaml:"semantic_top_k"`
	VectorTimeout    time.Duration `yaml:"vector_timeout"`
	MaxPromptLength  int           `yaml:"max_prompt_length"`
}

// EconomicsConfig holds the mismatch-cost weights and the similarity
// threshold table. Both tables must carry a "default" entry for unknown keys.
type EconomicsConfig struct {
	QualityPenaltyWeight float64                       `yaml:"quality_penalty_weight"`
	TaskWeights          map[string]float64            `yaml:"task_weights"`
	Thresholds           map[string]map[string]float64 `yaml:"thresholds"`
}

type DetectorConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

type RoutingConfig struct {
	ProviderTimeout time.Duration        `yaml:"provider_timeout"`
	MaxRetries      int                  `yaml:"max_retries"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`

	// ExpectedOutputFactor scales estimated prompt tokens into an expected
	// completion size when pricing a not-yet-made provider call.
	ExpectedOutputFactor float64 `yaml:"expected_output_factor"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "semroute",
			User:            "semroute",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			DB:       0,
			PoolSize: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			BatchSize:  64,
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			ExactTTL:        time.Hour,
			SemanticTTL:     12 * time.Hour,
			IntermediateTTL: 24 * time.Hour,
			SemanticTopK:    5,
			VectorTimeout:   2 * time.Second,
			MaxPromptLength: 100_000,
		},
		Economics: EconomicsConfig{
			QualityPenaltyWeight: 1.0,
			TaskWeights: map[string]float64{
				"faq":       1.0,
				"general":   1.5,
				"summarize": 1.5,
				"coding":    2.5,
				"reasoning": 3.0,
				"legal":     4.0,
				"default":   2.0,
			},
			Thresholds: map[string]map[string]float64{
				"faq":     {"high": 0.80, "medium": 0.85, "low": 0.90},
				"general": {"high": 0.83, "medium": 0.87, "low": 0.92},
				"coding":  {"high": 0.86, "medium": 0.90, "low": 0.94},
				"legal":   {"high": 0.88, "medium": 0.92, "low": 0.96},
				"default": {"high": 0.85, "medium": 0.90, "low": 0.95},
			},
		},
		Detector: DetectorConfig{
			ConfidenceFloor: 0.3,
		},
		Routing: RoutingConfig{
			ProviderTimeout: 30 * time.Second,
			MaxRetries:      3,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
			ExpectedOutputFactor: 1.0,
		},
		Policy: PolicyConfig{
			Enabled:           false,
			BundlePath:        "/etc/semroute/policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
	}
}

// Validate rejects malformed weight and threshold tables at startup.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if w := c.Economics.QualityPenaltyWeight; w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("economics.quality_penalty_weight must be finite and non-negative, got %v", w)
	}
	if _, ok := c.Economics.TaskWeights["default"]; !ok {
		return fmt.Errorf("economics.task_weights must include a %q entry", "default")
	}
	for task, w := range c.Economics.TaskWeights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("economics.task_weights[%s] must be finite and non-negative, got %v", task, w)
		}
	}
	if _, ok := c.Economics.Thresholds["default"]; !ok {
		return fmt.Errorf("economics.thresholds must include a %q row", "default")
	}
	for task, row := range c.Economics.Thresholds {
		for sens, v := range row {
			if v < 0 || v > 1 || math.IsNaN(v) {
				return fmt.Errorf("economics.thresholds[%s][%s] must be in [0,1], got %v", task, sens, v)
			}
		}
	}
	if c.Detector.ConfidenceFloor < 0 || c.Detector.ConfidenceFloor > 1 {
		return fmt.Errorf("detector.confidence_floor must be in [0,1], got %v", c.Detector.ConfidenceFloor)
	}
	return nil
}
