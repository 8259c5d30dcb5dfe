// Package config loads profiler settings from defaults, an optional YAML file,
// a .env file and PROFILER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/docutag/profiler"
	"github.com/docutag/profiler/api"
	"github.com/docutag/profiler/db"
	"github.com/docutag/profiler/llm"
	"github.com/docutag/profiler/logger"
	"github.com/docutag/profiler/models"
	"github.com/docutag/profiler/storage"
	"github.com/docutag/profiler/tracing"
)

// EnvPrefix prefixes every environment variable, e.g. PROFILER_LLM_PROVIDER
const EnvPrefix = "PROFILER"

// Config is the complete service configuration
type Config struct {
	Server   api.Config       `mapstructure:"server"`
	LLM      llm.Config       `mapstructure:"llm"`
	Pipeline profiler.Config  `mapstructure:"pipeline"`
	Database db.Config        `mapstructure:"database"`
	Storage  storage.Config   `mapstructure:"storage"`
	S3       storage.S3Config `mapstructure:"s3"`
	Logging  logger.Config    `mapstructure:"logging"`
	Tracing  tracing.Config   `mapstructure:"tracing"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server:   api.DefaultConfig(),
		LLM:      llm.DefaultConfig(),
		Pipeline: profiler.DefaultConfig(),
		Database: db.DefaultConfig(),
		Storage:  storage.DefaultConfig(),
		Logging:  logger.DefaultConfig(),
		Tracing:  tracing.Config{SampleRatio: 1},
	}
}

// Options control where Load looks
type Options struct {
	File    string // Explicit config file; when empty ./config.yaml and ./config/config.yaml are tried
	EnvFile string // .env file; defaults to ".env"
}

// Load builds the configuration. Missing config and .env files are not an error.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// Existing environment variables win over .env entries
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Slices are decoded onto existing elements, so start them empty
	cfg := Default()
	cfg.Pipeline.Keywords = nil
	cfg.Pipeline.Queries = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Pipeline.Queries) == 0 {
		cfg.Pipeline.Queries = models.DefaultQuerySpec()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key so environment variables can override it
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_enabled", d.Server.CORSEnabled)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.auth_token", d.Server.AuthToken)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.retry.max_attempts", d.LLM.Retry.MaxAttempts)
	v.SetDefault("llm.retry.backoff_base", d.LLM.Retry.BackoffBase)
	v.SetDefault("llm.retry.max_backoff", d.LLM.Retry.MaxBackoff)

	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.relevant_cap", d.Pipeline.RelevantCap)
	v.SetDefault("pipeline.keywords", d.Pipeline.Keywords)
	v.SetDefault("pipeline.relevance_max_tokens", d.Pipeline.RelevanceMaxTokens)
	v.SetDefault("pipeline.relevance_temperature", d.Pipeline.RelevanceTemperature)
	v.SetDefault("pipeline.extraction_max_tokens", d.Pipeline.ExtractionMaxTokens)
	v.SetDefault("pipeline.extraction_temperature", d.Pipeline.ExtractionTemperature)
	v.SetDefault("pipeline.classify_pause", d.Pipeline.ClassifyPause)
	v.SetDefault("pipeline.field_interval", d.Pipeline.FieldInterval)
	v.SetDefault("pipeline.strict_verdict", d.Pipeline.StrictVerdict)
	v.SetDefault("pipeline.deterministic_order", d.Pipeline.DeterministicOrder)
	v.SetDefault("pipeline.fetch.max_retries", d.Pipeline.Fetch.MaxRetries)
	v.SetDefault("pipeline.fetch.timeout", d.Pipeline.Fetch.Timeout)
	v.SetDefault("pipeline.fetch.retry_delay", d.Pipeline.Fetch.RetryDelay)
	v.SetDefault("pipeline.fetch.user_agent", d.Pipeline.Fetch.UserAgent)
	v.SetDefault("pipeline.fetch.max_body_bytes", d.Pipeline.Fetch.MaxBodyBytes)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.skip_migrations", d.Database.SkipMigrations)

	v.SetDefault("storage.base_path", d.Storage.BasePath)

	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.bucket", d.S3.Bucket)
	v.SetDefault("s3.access_key_id", d.S3.AccessKeyID)
	v.SetDefault("s3.secret_access_key", d.S3.SecretAccessKey)
	v.SetDefault("s3.use_path_style", d.S3.UsePathStyle)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}

// Validate checks the settings every command depends on
func (c Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("invalid llm config: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	if c.Pipeline.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("invalid pipeline config: fetch max_retries must be positive")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("invalid tracing config: sample_ratio must be within [0, 1]")
	}
	return nil
}
