package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// MinCheckInterval is the shortest accepted probe interval
const MinCheckInterval = 10 * time.Second

// LoadConfig loads configuration from the directory holding path
func LoadConfig(path string) (*Config, error) {
	return LoadConfigDir(filepath.Dir(path))
}

// LoadConfigDir loads all configuration files from a directory
func LoadConfigDir(dir string) (*Config, error) {
	cfg := &Config{}

	// Load monitor.yaml
	if err := loadYAML(filepath.Join(dir, "monitor.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("loading monitor.yaml: %w", err)
	}

	// Load notifications.yaml (optional)
	notificationsPath := filepath.Join(dir, "notifications.yaml")
	if _, err := os.Stat(notificationsPath); err == nil {
		if err := loadYAML(notificationsPath, &cfg.Notifications); err != nil {
			return nil, fmt.Errorf("loading notifications.yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.CheckInterval == 0 {
		g.CheckInterval = 300 * time.Second
	}
	if g.CheckRetries == 0 {
		g.CheckRetries = 3
	}
	if g.CheckRetryDelay == 0 {
		g.CheckRetryDelay = 2 * time.Second
	}
	if g.CheckSingleTimeout == 0 {
		g.CheckSingleTimeout = 5 * time.Second
	}
	if g.FailureThreshold == 0 {
		g.FailureThreshold = 3
	}
	if g.UptimeWindow == 0 {
		g.UptimeWindow = 24 * time.Hour
	}
	if g.DisplayTimezone == "" {
		g.DisplayTimezone = "UTC"
	}
	if g.MaxConcurrentProbes == 0 {
		g.MaxConcurrentProbes = 32
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "portwatch.db"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8088
	}
	flap := &cfg.Notifications.FlapDetection
	if flap.Threshold == 0 {
		flap.Threshold = 4
	}
	if flap.Window == 0 {
		flap.Window = 30 * time.Minute
	}
}

// applyEnv overrides file values with the CHECK_*, FAILURE_THRESHOLD and API_PORT variables.
// Delays and timeouts are given in seconds.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"CHECK_RETRIES", &cfg.Global.CheckRetries},
		{"FAILURE_THRESHOLD", &cfg.Global.FailureThreshold},
		{"API_PORT", &cfg.API.Port},
	}
	for _, v := range ints {
		raw, ok := lookup(v.key)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("env %s: invalid integer %q", v.key, raw)
		}
		*v.dst = n
	}

	secs := []struct {
		key string
		dst *time.Duration
	}{
		{"CHECK_RETRY_DELAY", &cfg.Global.CheckRetryDelay},
		{"CHECK_SINGLE_TIMEOUT", &cfg.Global.CheckSingleTimeout},
	}
	for _, v := range secs {
		raw, ok := lookup(v.key)
		if !ok || raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("env %s: invalid number of seconds %q", v.key, raw)
		}
		*v.dst = time.Duration(f * float64(time.Second))
	}
	return nil
}

// Location resolves the display timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Global.DisplayTimezone)
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	g := cfg.Global
	if g.CheckInterval < MinCheckInterval {
		return fmt.Errorf("global: check_interval must be at least %s", MinCheckInterval)
	}
	if g.CheckRetries < 1 {
		return fmt.Errorf("global: check_retries must be > 0")
	}
	if g.CheckRetryDelay < 0 {
		return fmt.Errorf("global: check_retry_delay must not be negative")
	}
	if g.CheckSingleTimeout <= 0 {
		return fmt.Errorf("global: check_single_timeout must be > 0")
	}
	if g.FailureThreshold < 1 {
		return fmt.Errorf("global: failure_threshold must be > 0")
	}
	if g.UptimeWindow <= 0 {
		return fmt.Errorf("global: uptime_window must be > 0")
	}
	if g.MaxConcurrentProbes < 1 {
		return fmt.Errorf("global: max_concurrent_probes must be > 0")
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("global: unknown display_timezone %s", g.DisplayTimezone)
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api: port %d out of range", cfg.API.Port)
	}

	seen := make(map[string]bool, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint #%d: name is required", i+1)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoint %s: duplicate name", ep.Name)
		}
		seen[ep.Name] = true
		if ep.Host == "" {
			return fmt.Errorf("endpoint %s: host is required", ep.Name)
		}
		if ep.Port < 1 || ep.Port > 65535 {
			return fmt.Errorf("endpoint %s: port %d out of range", ep.Name, ep.Port)
		}
	}

	// Validate alert channels
	for name, channel := range cfg.Notifications.Channels {
		switch channel.Type {
		case ChannelApprise:
			if channel.URLEnv == "" {
				return fmt.Errorf("channel %s: url_env is required", name)
			}
		case ChannelBrevo:
			if channel.APIKeyEnv == "" {
				return fmt.Errorf("channel %s: api_key_env is required", name)
			}
			if channel.From == "" || len(channel.To) == 0 {
				return fmt.Errorf("channel %s: from and to are required", name)
			}
		case ChannelLog:
		default:
			return fmt.Errorf("channel %s: type must be 'apprise', 'brevo' or 'log'", name)
		}
		// Note: env vars are not checked here as they may be set at runtime
	}

	if cfg.Notifications.FlapDetection.Threshold < 2 {
		return fmt.Errorf("flap_detection: threshold must be at least 2")
	}

	return nil
}
