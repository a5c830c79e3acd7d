package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envPrefix = "SEGMENTS"

// Config is filled in three layers: Default, then an optional YAML file, then
// SEGMENTS_* environment variables. Leaf fields carry no envconfig tag so
// envconfig never falls back to an unprefixed variable such as $PATH or $USER.
type Config struct {
	Input      InputConfig      `yaml:"input" envconfig:"INPUT"`
	Clustering ClusteringConfig `yaml:"clustering" envconfig:"CLUSTERING"`
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logger     LoggerConfig     `yaml:"logger" envconfig:"LOG"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" envconfig:"CLICKHOUSE"`
}

type InputConfig struct {
	Path         string `yaml:"path" split_words:"true" validate:"required"`
	Strict       bool   `yaml:"strict" split_words:"true"`
	CacheEnabled bool   `yaml:"cache_enabled" split_words:"true"`
	CacheDir     string `yaml:"cache_dir" split_words:"true"`
}

type ClusteringConfig struct {
	Clusters            int    `yaml:"clusters" split_words:"true" validate:"min=1"`
	Method              string `yaml:"method" split_words:"true" validate:"oneof=kmeans hierarchical ward"`
	Restarts            int    `yaml:"restarts" split_words:"true" validate:"min=1"`
	MaxIterations       int    `yaml:"max_iterations" split_words:"true" validate:"min=1"`
	ElbowMaxK           int    `yaml:"elbow_max_k" split_words:"true" validate:"min=1"`
	MaxHierarchicalRows int    `yaml:"max_hierarchical_rows" split_words:"true" validate:"min=2"`
	DendrogramTruncate  int    `yaml:"dendrogram_truncate" split_words:"true" validate:"min=2"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	LoadTimeout     time.Duration `yaml:"load_timeout" split_words:"true"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" split_words:"true" validate:"oneof=json text"`
}

type SecurityConfig struct {
	EnableRateLimit bool     `yaml:"enable_rate_limit" split_words:"true"`
	RateLimitRPS    int      `yaml:"rate_limit_rps" split_words:"true" validate:"gt=0"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" split_words:"true" validate:"gt=0"`
	AllowedOrigins  []string `yaml:"allowed_origins" split_words:"true"`
	TrustedProxies  []string `yaml:"trusted_proxies" split_words:"true"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" split_words:"true" validate:"oneof=none stdout"`
	MetricsEnabled bool   `yaml:"metrics_enabled" split_words:"true"`
}

type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled" split_words:"true"`
	Host     string `yaml:"host" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	Database string `yaml:"database" split_words:"true"`
	Username string `yaml:"username" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
}

func Default() Config {
	return Config{
		Input: InputConfig{
			Path:         "../Data/Online_Retail.csv",
			CacheEnabled: true,
			CacheDir:     ".cache",
		},
		Clustering: ClusteringConfig{
			Clusters:            3,
			Method:              "kmeans",
			Restarts:            10,
			MaxIterations:       300,
			ElbowMaxK:           10,
			MaxHierarchicalRows: 10000,
			DendrogramTruncate:  30,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8084,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LoadTimeout:     5 * time.Minute,
		},
		Logger: LoggerConfig{Level: "info", Format: "text"},
		Security: SecurityConfig{
			EnableRateLimit: true,
			RateLimitRPS:    100,
			RateLimitBurst:  10,
			AllowedOrigins:  []string{"http://localhost:8084"},
			TrustedProxies:  []string{"127.0.0.1"},
		},
		Telemetry: TelemetryConfig{TraceExporter: "none", MetricsEnabled: true},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "segments",
			Username: "default",
		},
	}
}

// Load starts from Default, overlays an optional YAML file, applies the
// environment and validates the result. Environment values win over the file.
func Load(file string) (*Config, error) {
	cfg := Default()

	if file != "" {
		if err := loadFromFile(file, &cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Fields without a default tag are only touched when their variable is set.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadFromFile decodes the YAML file over cfg. Keys absent from the file keep
// their current value; keys present, including false and 0, replace it.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

var validate = validator.New()

// Validate checks field tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.Clustering.Method != "kmeans" && c.Clustering.Clusters > c.Clustering.MaxHierarchicalRows {
		return fmt.Errorf("clusters (%d) cannot exceed max hierarchical rows (%d)",
			c.Clustering.Clusters, c.Clustering.MaxHierarchicalRows)
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
