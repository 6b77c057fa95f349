package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// requiredSecrets lists the sensitive values each environment cannot start without
var requiredSecrets = map[Environment][]string{
	Development: {},
	Test:        {},
	CI:          {"db.password"},
	Production:  {"db.password", "jwt_secret", "text.api_key"},
}

// ValidateConfig checks if the configuration meets the requirements for the current environment
func ValidateConfig(cfg *Config) error {
	var errs []string
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg}.Error())
	}

	switch cfg.DB.Driver {
	case "postgres":
		if cfg.DB.Host == "" {
			add("db.host", "required for postgres driver")
		}
	case "sqlite":
		if cfg.DB.SQLitePath == "" {
			add("db.sqlite_path", "required for sqlite driver")
		}
	default:
		add("db.driver", fmt.Sprintf("unsupported driver %q", cfg.DB.Driver))
	}

	if cfg.Queue.Workers < 1 {
		add("queue.workers", "must be at least 1")
	}
	if cfg.Queue.MaxAttempts < 1 {
		add("queue.max_attempts", "must be at least 1")
	}
	if cfg.Progress.TTL <= 0 {
		add("progress.ttl", "must be positive")
	}
	if cfg.CancellationSweepInterval <= 0 {
		add("cancellation_sweep_interval", "must be positive")
	}
	if cfg.Image.MaxAttempts < 1 {
		add("image.max_attempts", "must be at least 1")
	}

	for _, key := range requiredSecrets[cfg.Environment] {
		if secretValue(cfg, key) == "" {
			add(key, "required secret is not set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func secretValue(cfg *Config, key string) string {
	switch key {
	case "db.password":
		return cfg.DB.Password
	case "jwt_secret":
		return cfg.JWTSecret
	case "redis.password":
		return cfg.Redis.Password
	case "text.api_key":
		return cfg.Text.Key
	case "image.api_key":
		return cfg.Image.Key
	}
	return ""
}
