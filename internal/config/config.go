package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	EnvListen   = "DEPLOYPKG_LISTEN"
	EnvRedisURL = "DEPLOYPKG_REDIS_URL"
	EnvLogLevel = "DEPLOYPKG_LOG_LEVEL"

	defaultListen       = ":8080"
	defaultURL          = "http://localhost:8080"
	defaultRedisURL     = "redis://localhost:6379/0"
	defaultWorkDir      = "/var/lib/deploypkg"
	defaultWorkers      = 4
	defaultDescFileName = "package.md"
	defaultHTTPTimeout  = 30 * time.Second
)

type IndexerConfig struct {
	WorkDir      string `yaml:"work_dir"`
	Workers      int    `yaml:"workers"`
	DescFileName string `yaml:"desc_filename"`
}

type EncoderConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	BufferSize       int `yaml:"buffer_size"`
	CompressionLevel int `yaml:"compression_level"`
	// Released encoders kept for reuse
	PoolSize int `yaml:"pool_size"`
}

type SourceConfig struct {
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// FSAdapterConfig is the part of the configuration the filesystem adapter needs.
type FSAdapterConfig struct {
	URL          string
	WorkDir      string
	DescFileName string
}

type Config struct {
	URL      string `yaml:"url"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	RedisURL string `yaml:"redis_url"`
	// Notes page template, the embedded one when empty
	TemplateFileName string        `yaml:"template_file"`
	IndexerConfig    IndexerConfig `yaml:"indexer"`
	EncoderConfig    EncoderConfig `yaml:"encoder"`
	SourceConfig     SourceConfig  `yaml:"source"`
}

func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.URL == "" {
		c.URL = defaultURL
	}
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.RedisURL == "" {
		c.RedisURL = defaultRedisURL
	}
	if c.IndexerConfig.WorkDir == "" {
		c.IndexerConfig.WorkDir = defaultWorkDir
	}
	if c.IndexerConfig.Workers < 1 {
		c.IndexerConfig.Workers = defaultWorkers
	}
	if c.IndexerConfig.DescFileName == "" {
		c.IndexerConfig.DescFileName = defaultDescFileName
	}
	if c.SourceConfig.HTTPTimeout <= 0 {
		c.SourceConfig.HTTPTimeout = defaultHTTPTimeout
	}
}

func (c *Config) FSAdapterConfig() *FSAdapterConfig {
	return &FSAdapterConfig{
		URL:          c.URL,
		WorkDir:      c.IndexerConfig.WorkDir,
		DescFileName: c.IndexerConfig.DescFileName,
	}
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	return nil
}

// applyEnv overrides file settings with DEPLOYPKG_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Load reads the yaml config file. A .env file next to the working directory
// is loaded first when present; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}
