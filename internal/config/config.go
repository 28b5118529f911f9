// Package config provides configuration loading and validation for the
// digest service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/psalt21/signal-scout/internal/collector"
	"github.com/psalt21/signal-scout/internal/validate"
)

// Config holds all configuration values for the digest service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabasePath string `koanf:"database_path"`

	// Ranking topic and the keyword set used for fallback scoring.
	Topic    string   `koanf:"topic"`
	Keywords []string `koanf:"keywords"`

	// Feeds to poll. File-only; there is no sensible env encoding for
	// a list of name/url pairs.
	Feeds []collector.Feed `koanf:"feeds"`

	// LLM settings
	LLMAPIKey string `koanf:"llm_api_key"`
	LLMAPIURL string `koanf:"llm_api_url"`
	LLMModel  string `koanf:"llm_model"`

	// Pipeline tuning
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	BatchLimit      int           `koanf:"batch_limit"`
	MaxItemAgeDays  int           `koanf:"max_item_age_days"`
	DigestLimit     int           `koanf:"digest_limit"`
}

// Configuration validation errors.
var (
	ErrMissingTopic       = errors.New("TOPIC is required")
	ErrNoFeeds            = errors.New("at least one feed is required")
	ErrInvalidFeed        = errors.New("feed entry is invalid")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidInterval    = errors.New("REFRESH_INTERVAL must be a positive duration")
	ErrInvalidBatchLimit  = errors.New("BATCH_LIMIT must be positive")
	ErrInvalidDigestLimit = errors.New("DIGEST_LIMIT must be positive")
	ErrInvalidMaxItemAge  = errors.New("MAX_ITEM_AGE_DAYS must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort            = 8080
	DefaultEnv             = "development"
	DefaultDatabasePath    = "scout.db"
	DefaultLLMAPIURL       = "https://api.openai.com/v1/chat/completions"
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultRefreshInterval = 30 * time.Minute
	DefaultBatchLimit      = 30
	DefaultMaxItemAgeDays  = 7
	DefaultDigestLimit     = 15
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be
// loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid.
	// Try SCOUT_PORT first, then PORT for backward compatibility.
	port, portErr := getEnvIntOrDefaultMulti([]string{"SCOUT_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	batchLimit, batchErr := getEnvIntOrDefault("BATCH_LIMIT", k.Int("batch_limit"), DefaultBatchLimit)
	if batchErr != nil {
		loadErrs = append(loadErrs, batchErr)
	}

	maxItemAge, ageErr := getEnvIntOrDefault("MAX_ITEM_AGE_DAYS", k.Int("max_item_age_days"), DefaultMaxItemAgeDays)
	if ageErr != nil {
		loadErrs = append(loadErrs, ageErr)
	}

	digestLimit, digestErr := getEnvIntOrDefault("DIGEST_LIMIT", k.Int("digest_limit"), DefaultDigestLimit)
	if digestErr != nil {
		loadErrs = append(loadErrs, digestErr)
	}

	interval, intervalErr := getEnvDurationOrDefault("REFRESH_INTERVAL", k.String("refresh_interval"), DefaultRefreshInterval)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	// Keywords: env var wins (comma-separated), file list otherwise.
	keywords := k.Strings("keywords")
	if val := os.Getenv("KEYWORDS"); val != "" {
		keywords = splitCommaList(val)
	}

	var feeds []collector.Feed
	if err := k.Unmarshal("feeds", &feeds); err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("failed to parse feeds: %w", err))
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:            port,
		Env:             getEnvOrDefaultMulti([]string{"SCOUT_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabasePath:    getEnvOrDefault("SCOUT_DB_PATH", k.String("database_path"), DefaultDatabasePath),
		Topic:           getEnvOrKoanf("TOPIC", k, "topic"),
		Keywords:        keywords,
		Feeds:           feeds,
		LLMAPIKey:       getEnvOrDefaultMulti([]string{"LLM_API_KEY", "OPENAI_API_KEY"}, k.String("llm_api_key"), ""),
		LLMAPIURL:       getEnvOrDefault("LLM_API_URL", k.String("llm_api_url"), DefaultLLMAPIURL),
		LLMModel:        getEnvOrDefault("LLM_MODEL", k.String("llm_model"), DefaultLLMModel),
		RefreshInterval: interval,
		BatchLimit:      batchLimit,
		MaxItemAgeDays:  maxItemAge,
		DigestLimit:     digestLimit,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// MaxItemAge returns the item-age cutoff as a duration.
func (c *Config) MaxItemAge() time.Duration {
	return time.Duration(c.MaxItemAgeDays) * 24 * time.Hour
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration
// if set, otherwise the koanf string value, or default. Accepts Go
// duration syntax ("30m", "1h").
func getEnvDurationOrDefault(envKey string, koanfVal string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(envKey)
	if raw == "" {
		raw = koanfVal
	}
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
	}
	return d, nil
}

// splitCommaList splits a comma-separated value, trimming whitespace
// and dropping empty entries.
func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that all required configuration values are present
// and well formed. Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Topic == "" {
		errs = append(errs, ErrMissingTopic)
	}
	if len(c.Feeds) == 0 {
		errs = append(errs, ErrNoFeeds)
	}
	for _, f := range c.Feeds {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("%w: missing name for url %q", ErrInvalidFeed, f.URL))
			continue
		}
		if _, err := validate.FeedURL(f.URL); err != nil {
			errs = append(errs, fmt.Errorf("%w: feed %q: %v", ErrInvalidFeed, f.Name, err))
		}
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, ErrInvalidInterval)
	}
	if c.BatchLimit <= 0 {
		errs = append(errs, ErrInvalidBatchLimit)
	}
	if c.DigestLimit <= 0 {
		errs = append(errs, ErrInvalidDigestLimit)
	}
	if c.MaxItemAgeDays <= 0 {
		errs = append(errs, ErrInvalidMaxItemAge)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// The credential is masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":             fmt.Sprintf("%d", c.Port),
		"env":              c.Env,
		"database_path":    c.DatabasePath,
		"topic":            c.Topic,
		"keywords":         strings.Join(c.Keywords, ","),
		"feeds":            fmt.Sprintf("%d configured", len(c.Feeds)),
		"llm_api_key":      maskSecret(c.LLMAPIKey),
		"llm_api_url":      c.LLMAPIURL,
		"llm_model":        c.LLMModel,
		"refresh_interval": c.RefreshInterval.String(),
		"batch_limit":      fmt.Sprintf("%d", c.BatchLimit),
		"max_item_age":     fmt.Sprintf("%dd", c.MaxItemAgeDays),
		"digest_limit":     fmt.Sprintf("%d", c.DigestLimit),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}
