package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment represents the current runtime environment
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	CI          Environment = "ci"
	Production  Environment = "production"
)

// GetEnvironment determines the current environment
func GetEnvironment() Environment {
	// CI environment is automatically detected
	if os.Getenv("CI") == "true" {
		return CI
	}

	switch Environment(os.Getenv("ENV")) {
	case Production:
		return Production
	case Test:
		return Test
	default:
		return Development
	}
}

// Config holds all configuration for the generation service
type Config struct {
	Environment Environment `mapstructure:"-"`

	ServerHost string `mapstructure:"server_host"`
	ServerPort string `mapstructure:"server_port"`

	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Progress ProgressConfig `mapstructure:"progress"`
	Text     AIEndpoint     `mapstructure:"text"`
	Image    ImageConfig    `mapstructure:"image"`
	S3       StorageConfig  `mapstructure:"s3"`

	CancellationSweepInterval time.Duration `mapstructure:"cancellation_sweep_interval"`
	JWTSecret                 string        `mapstructure:"jwt_secret"`
	CORSOrigins               []string      `mapstructure:"cors_origins"`
	RateLimitPerHour          int           `mapstructure:"rate_limit_per_hour"`
	LogLevel                  string        `mapstructure:"log_level"`
	LogFormat                 string        `mapstructure:"log_format"`
}

// DBConfig selects and addresses the relational store
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SSLMode    string `mapstructure:"ssl_mode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DSN returns the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL returns the postgres URL form used by the migration runner.
func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig addresses the shared Redis instance. URL wins over host/port.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Configured reports whether any Redis address was supplied.
func (c RedisConfig) Configured() bool {
	return c.URL != "" || c.Host != ""
}

// QueueConfig controls the background job queue
type QueueConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InProcess    bool          `mapstructure:"in_process"`
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	JobRetention time.Duration `mapstructure:"job_retention"`
}

// ProgressConfig controls the partial-result cache
type ProgressConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MemorySweep time.Duration `mapstructure:"memory_sweep"`
}

// AIEndpoint describes one OpenAI-compatible API
type AIEndpoint struct {
	URL   string `mapstructure:"api_url"`
	Model string `mapstructure:"model"`
	Key   string `mapstructure:"api_key"`
}

// ImageConfig describes the image generation API
type ImageConfig struct {
	AIEndpoint  `mapstructure:",squash"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// StorageConfig describes the object store
type StorageConfig struct {
	BucketName    string `mapstructure:"bucket_name"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// secretKeys are read from Docker secrets when present and override env values
var secretKeys = map[string]string{
	"db_password":    "db.password",
	"jwt_secret":     "jwt_secret",
	"redis_password": "redis.password",
	"text_api_key":   "text.api_key",
	"image_api_key":  "image.api_key",
}

// LoadConfig creates a new Config instance with values from environment variables or secrets
func LoadConfig() (*Config, error) {
	env := GetEnvironment()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("s3.region", "AWS_REGION", "S3_REGION")

	// CI uses environment variables, not Docker secrets
	if env != CI {
		for name, key := range secretKeys {
			if value := readSecret(name); value != "" {
				v.Set(key, value)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Environment = env

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", "8080")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "alchemorsel")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.sqlite_path", "recipegen.db")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.in_process", true)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_attempts", 1)
	v.SetDefault("queue.retry_backoff", 5*time.Second)
	v.SetDefault("queue.job_retention", time.Hour)

	v.SetDefault("progress.ttl", time.Hour)
	v.SetDefault("progress.memory_sweep", time.Duration(0))
	v.SetDefault("cancellation_sweep_interval", 15*time.Minute)

	v.SetDefault("text.api_url", "https://api.deepseek.com/v1")
	v.SetDefault("text.model", "deepseek-chat")
	v.SetDefault("text.api_key", "")
	v.SetDefault("image.api_url", "https://api.openai.com/v1")
	v.SetDefault("image.model", "dall-e-3")
	v.SetDefault("image.api_key", "")
	v.SetDefault("image.max_attempts", 3)

	v.SetDefault("s3.bucket_name", "alchemorsel-recipe-images")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.public_base_url", "")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_limit_per_hour", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// readSecret reads a Docker secret from the secrets directory
func readSecret(name string) string {
	secretsDir := os.Getenv("SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = "/run/secrets"
	}
	if data, err := os.ReadFile(filepath.Join(secretsDir, name)); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}
