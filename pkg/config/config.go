package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AdminToken      string        `yaml:"admin_token"`
		// RateLimit applies to POST /api/forecast per client IP; off when
		// per_second is 0.
		RateLimit struct {
			Burst     float64 `yaml:"burst"`
			PerSecond float64 `yaml:"per_second"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// Collector publishes aggregated error lines to Kafka.
		Collector struct {
			Enabled       bool          `yaml:"enabled"`
			Topic         string        `yaml:"topic"`
			FlushInterval time.Duration `yaml:"flush_interval"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
	Forecast struct {
		WindowLength   int           `yaml:"window_length"`
		DefaultHorizon int           `yaml:"default_horizon"`
		MaxHorizon     int           `yaml:"max_horizon"`
		Timeout        time.Duration `yaml:"timeout"`
		// Sink is one of none, clickhouse or kafka.
		Sink      string `yaml:"sink"`
		WarmStart bool   `yaml:"warm_start"`
	} `yaml:"forecast"`
	Artifacts struct {
		ModelDir    string                      `yaml:"model_dir"`
		Instruments map[string]InstrumentConfig `yaml:"instruments"`
	} `yaml:"artifacts"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Topics       struct {
			Forecasts string `yaml:"forecasts"`
			Reload    string `yaml:"reload"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		FeaturesTable    string        `yaml:"features_table"`
		ForecastsTable   string        `yaml:"forecasts_table"`
		// SeedCacheTTL keeps seed windows in process memory; 0 disables.
		SeedCacheTTL time.Duration `yaml:"seed_cache_ttl"`
	} `yaml:"clickhouse"`
}

// InstrumentConfig describes the artifacts of one forecastable instrument.
type InstrumentConfig struct {
	Kind       string           `yaml:"kind"`
	Predictor  PredictorConfig  `yaml:"predictor"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Seed       SeedConfig       `yaml:"seed"`
	Layout     LayoutConfig     `yaml:"layout"`
	// Assets lists multi-asset identifiers in one-hot column order.
	Assets []string `yaml:"assets"`
}

type PredictorConfig struct {
	// Type is linear or tfserving.
	Type    string        `yaml:"type"`
	Path    string        `yaml:"path"`
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type NormalizerConfig struct {
	Path     string `yaml:"path"`
	PerAsset bool   `yaml:"per_asset"`
}

type SeedConfig struct {
	// Source is file, clickhouse or redis.
	Source string `yaml:"source"`
	// Path may contain {asset} for per-asset files.
	Path   string `yaml:"path"`
	Table  string `yaml:"table"`
	Key    string `yaml:"key"`
	Scaled bool   `yaml:"scaled"`
}

type LayoutConfig struct {
	Columns     []string `yaml:"columns"`
	CloseColumn string   `yaml:"close_column"`
}

// DefaultColumns is the technical layout used when none is configured.
var DefaultColumns = []string{"open", "high", "low", "close", "volume", "return"}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	return load(path, false)
}

// LoadWithEnv loads .env (if present), then config from YAML, and overrides
// with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if withEnv {
		c.applyEnv()
	}
	c.applyDefaults()
	c.resolvePaths()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRICECAST_MODEL_DIR"); v != "" {
		c.Artifacts.ModelDir = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PRICECAST_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pricecast"
	}
	if c.Forecast.WindowLength == 0 {
		c.Forecast.WindowLength = 30
	}
	if c.Forecast.DefaultHorizon == 0 {
		c.Forecast.DefaultHorizon = 180
	}
	if c.Forecast.MaxHorizon == 0 {
		c.Forecast.MaxHorizon = 365
	}
	if c.Forecast.Sink == "" {
		c.Forecast.Sink = "none"
	}
	if c.ClickHouse.FeaturesTable == "" {
		c.ClickHouse.FeaturesTable = "features"
	}
	if c.ClickHouse.ForecastsTable == "" {
		c.ClickHouse.ForecastsTable = "forecast_runs"
	}
	for name, inst := range c.Artifacts.Instruments {
		if len(inst.Layout.Columns) == 0 {
			inst.Layout.Columns = DefaultColumns
		}
		if inst.Layout.CloseColumn == "" {
			inst.Layout.CloseColumn = "close"
		}
		if inst.Predictor.Type == "" {
			inst.Predictor.Type = "linear"
		}
		if inst.Seed.Source == "" {
			inst.Seed.Source = "file"
		}
		c.Artifacts.Instruments[name] = inst
	}
}

// resolvePaths makes relative artifact file paths relative to model_dir.
func (c *Config) resolvePaths() {
	if c.Artifacts.ModelDir == "" {
		return
	}
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Artifacts.ModelDir, p)
	}
	for name, inst := range c.Artifacts.Instruments {
		inst.Predictor.Path = join(inst.Predictor.Path)
		inst.Normalizer.Path = join(inst.Normalizer.Path)
		inst.Seed.Path = join(inst.Seed.Path)
		c.Artifacts.Instruments[name] = inst
	}
}

// InstrumentNames returns the configured instruments in sorted order.
func (c *Config) InstrumentNames() []string {
	names := make([]string, 0, len(c.Artifacts.Instruments))
	for name := range c.Artifacts.Instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.RateLimit.PerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must be >= 0")
	}
	if c.Forecast.WindowLength < 1 {
		return fmt.Errorf("forecast.window_length must be >= 1, got %d", c.Forecast.WindowLength)
	}
	if c.Forecast.DefaultHorizon < 1 || c.Forecast.DefaultHorizon > c.Forecast.MaxHorizon {
		return fmt.Errorf("forecast.default_horizon must be in [1, %d], got %d", c.Forecast.MaxHorizon, c.Forecast.DefaultHorizon)
	}
	switch c.Forecast.Sink {
	case "none":
	case "clickhouse":
		if !c.ClickHouse.Enabled {
			return fmt.Errorf("forecast.sink 'clickhouse' requires clickhouse.enabled")
		}
	case "kafka":
		if !c.Kafka.Enabled || c.Kafka.Topics.Forecasts == "" {
			return fmt.Errorf("forecast.sink 'kafka' requires kafka.enabled and kafka.topics.forecasts")
		}
	default:
		return fmt.Errorf("forecast.sink must be 'none', 'clickhouse' or 'kafka', got '%s'", c.Forecast.Sink)
	}
	if len(c.Artifacts.Instruments) == 0 {
		return fmt.Errorf("artifacts.instruments cannot be empty")
	}
	for _, name := range c.InstrumentNames() {
		if err := c.Artifacts.Instruments[name].validate(); err != nil {
			return fmt.Errorf("artifacts.instruments.%s: %w", name, err)
		}
		inst := c.Artifacts.Instruments[name]
		if inst.Seed.Source == "clickhouse" && !c.ClickHouse.Enabled {
			return fmt.Errorf("artifacts.instruments.%s: seed source 'clickhouse' requires clickhouse.enabled", name)
		}
		if inst.Seed.Source == "redis" && !c.Redis.Enabled {
			return fmt.Errorf("artifacts.instruments.%s: seed source 'redis' requires redis.enabled", name)
		}
	}
	return nil
}

func (ic InstrumentConfig) validate() error {
	switch ic.Kind {
	case "single-asset":
	case "multi-asset":
		if len(ic.Assets) == 0 {
			return fmt.Errorf("multi-asset instrument needs assets")
		}
	default:
		return fmt.Errorf("kind must be 'single-asset' or 'multi-asset', got '%s'", ic.Kind)
	}
	switch ic.Predictor.Type {
	case "linear":
		if ic.Predictor.Path == "" {
			return fmt.Errorf("predictor.path is required for linear predictors")
		}
	case "tfserving":
		if ic.Predictor.URL == "" || ic.Predictor.Model == "" {
			return fmt.Errorf("predictor.url and predictor.model are required for tfserving")
		}
	default:
		return fmt.Errorf("predictor.type must be 'linear' or 'tfserving', got '%s'", ic.Predictor.Type)
	}
	if ic.Normalizer.Path == "" {
		return fmt.Errorf("normalizer.path is required")
	}
	switch ic.Seed.Source {
	case "file":
		if ic.Seed.Path == "" {
			return fmt.Errorf("seed.path is required for file seeds")
		}
	case "clickhouse", "redis":
	default:
		return fmt.Errorf("seed.source must be 'file', 'clickhouse' or 'redis', got '%s'", ic.Seed.Source)
	}
	return nil
}
