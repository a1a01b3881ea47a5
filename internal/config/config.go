// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Database backends for the memory snapshot.
const (
	DBMemory   = "memory"
	DBSQLite   = "sqlite"
	DBPostgres = "postgres"
)

// Config holds the application configuration. Values come from an optional
// YAML file and are then overridden by environment variables.
type Config struct {
	Environment        string        `yaml:"environment" validate:"required"`
	HTTPAddr           string        `yaml:"http_addr" validate:"required"`
	DBType             string        `yaml:"db_type" validate:"oneof=memory sqlite postgres"`
	DatabaseURL        string        `yaml:"database_url" validate:"required_unless=DBType memory"`
	SnapshotKey        string        `yaml:"snapshot_key" validate:"required"`
	APIKey             string        `yaml:"api_key"`
	Project            string        `yaml:"project"`
	Location           string        `yaml:"location" validate:"required_with=Project"`
	FluxModel          string        `yaml:"flux_model" validate:"required"`
	ChatModel          string        `yaml:"chat_model" validate:"required"`
	FluxTimeout        time.Duration `yaml:"flux_timeout" validate:"gt=0"`
	MaxDelegationDepth int           `yaml:"max_delegation_depth" validate:"min=1,max=100"`
	LogLevel           string        `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Environment:        "development",
		HTTPAddr:           ":8080",
		DBType:             DBSQLite,
		DatabaseURL:        "clair.db",
		SnapshotKey:        "clair-memory",
		FluxModel:          "imagen-3.0-generate-002",
		ChatModel:          "gemini-2.0-flash",
		FluxTimeout:        30 * time.Second,
		MaxDelegationDepth: 5,
		LogLevel:           "info",
	}
}

// Load reads path (if non-empty and present), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"CLAIR_ENV":             &c.Environment,
		"CLAIR_HTTP_ADDR":       &c.HTTPAddr,
		"DB_TYPE":               &c.DBType,
		"DATABASE_URL":          &c.DatabaseURL,
		"CLAIR_SNAPSHOT_KEY":    &c.SnapshotKey,
		"GOOGLE_API_KEY":        &c.APIKey,
		"GOOGLE_CLOUD_PROJECT":  &c.Project,
		"GOOGLE_CLOUD_LOCATION": &c.Location,
		"FLUX_MODEL":            &c.FluxModel,
		"CLAIR_CHAT_MODEL":      &c.ChatModel,
		"CLAIR_LOG_LEVEL":       &c.LogLevel,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	c.DBType = strings.ToLower(c.DBType)
	c.LogLevel = strings.ToLower(c.LogLevel)

	if v := os.Getenv("FLUX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FLUX_TIMEOUT %q: %w", v, err)
		}
		c.FluxTimeout = d
	}
	if v := os.Getenv("CLAIR_MAX_DELEGATION_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CLAIR_MAX_DELEGATION_DEPTH %q: %w", v, err)
		}
		c.MaxDelegationDepth = n
	}
	return nil
}

var validate = validator.New()

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "required_unless":
		return fmt.Sprintf("%s is required unless %s", field, strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt", "min", "max":
		return fmt.Sprintf("%s is out of range (%s %s)", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// UsesVertex reports whether genai should talk to Vertex AI rather than the
// Gemini API.
func (c Config) UsesVertex() bool {
	return c.Project != ""
}
