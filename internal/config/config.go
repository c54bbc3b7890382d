// Package config loads the daemon configuration: built-in defaults, merged
// with an optional YAML file, then overridden by SPLITPOT_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/splitpot/splitpot/internal/currency"
)

// Config carries the daemon's runtime settings.
type Config struct {
	// DatabasePath is the SQLite file the ledger lives in.
	DatabasePath string

	// BaseCurrency is the currency for groups created without one.
	BaseCurrency string

	// ProviderURL is the exchange-rate API endpoint; ProviderRPS caps
	// requests per second against it.
	ProviderURL string
	ProviderRPS float64

	// TickInterval is the scheduler's pass cadence. ReminderLead is how
	// far ahead of a settlement date due-soon reminders fire.
	TickInterval time.Duration
	ReminderLead time.Duration

	// MetricsAddr is the listen address for the metrics and health
	// endpoint.
	MetricsAddr string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Default returns the configuration the daemon runs with when no file or
// environment overrides are present.
func Default() Config {
	return Config{
		DatabasePath: "./data/splitpot.db",
		BaseCurrency: "USD",
		ProviderURL:  currency.DefaultProviderURL,
		ProviderRPS:  1,
		TickInterval: time.Minute,
		ReminderLead: 72 * time.Hour,
		MetricsAddr:  ":9090",
		LogLevel:     "info",
	}
}

// fileConfig mirrors the YAML layout. Durations are strings so the file can
// say "30s" or "1m".
type fileConfig struct {
	DatabasePath string `yaml:"databasePath"`
	BaseCurrency string `yaml:"baseCurrency"`
	Rates        struct {
		ProviderURL       string  `yaml:"providerURL"`
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	} `yaml:"rates"`
	Scheduler struct {
		TickInterval string `yaml:"tickInterval"`
		ReminderLead string `yaml:"reminderLead"`
	} `yaml:"scheduler"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
}

// Load builds the effective configuration. A non-empty path names the YAML
// file to read; with an empty path the default candidate locations are
// tried and silently skipped when absent. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{"splitpot.yaml", "configs/splitpot.yaml"}
	explicit := path != ""
	if explicit {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if explicit {
				return Config{}, fmt.Errorf("failed to read config %s: %w", candidate, err)
			}
			continue
		}
		if err := merge(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", candidate, err)
		}
		break
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// merge applies the non-zero fields of a parsed YAML file onto cfg.
func merge(cfg *Config, data []byte) error {
	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}

	if parsed.DatabasePath != "" {
		cfg.DatabasePath = parsed.DatabasePath
	}
	if parsed.BaseCurrency != "" {
		cfg.BaseCurrency = strings.ToUpper(parsed.BaseCurrency)
	}
	if parsed.Rates.ProviderURL != "" {
		cfg.ProviderURL = parsed.Rates.ProviderURL
	}
	if parsed.Rates.RequestsPerSecond > 0 {
		cfg.ProviderRPS = parsed.Rates.RequestsPerSecond
	}
	if parsed.Scheduler.TickInterval != "" {
		d, err := time.ParseDuration(parsed.Scheduler.TickInterval)
		if err != nil {
			return fmt.Errorf("scheduler.tickInterval: %w", err)
		}
		cfg.TickInterval = d
	}
	if parsed.Scheduler.ReminderLead != "" {
		d, err := time.ParseDuration(parsed.Scheduler.ReminderLead)
		if err != nil {
			return fmt.Errorf("scheduler.reminderLead: %w", err)
		}
		cfg.ReminderLead = d
	}
	if parsed.MetricsAddr != "" {
		cfg.MetricsAddr = parsed.MetricsAddr
	}
	if parsed.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(parsed.LogLevel)
	}
	return nil
}

// applyEnvOverrides lets SPLITPOT_* variables win over file values. Invalid
// values are ignored rather than failing startup.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_DB_PATH")); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_BASE_CURRENCY")); v != "" {
		cfg.BaseCurrency = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_RATES_URL")); v != "" {
		cfg.ProviderURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_RATES_RPS")); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps > 0 {
			cfg.ProviderRPS = rps
		}
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_TICK_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TickInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_REMINDER_LEAD")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReminderLead = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("SPLITPOT_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}
