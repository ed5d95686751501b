package config

import "time"

// Config represents the complete portwatch configuration
type Config struct {
	Global        GlobalConfig        `yaml:"global"`
	Storage       StorageConfig       `yaml:"storage"`
	API           APIConfig           `yaml:"api"`
	Endpoints     []EndpointConfig    `yaml:"endpoints,omitempty"`
	Notifications NotificationsConfig `yaml:"-"`
}

// GlobalConfig contains probe and alerting settings
type GlobalConfig struct {
	CheckInterval       time.Duration `yaml:"check_interval"`
	CheckRetries        int           `yaml:"check_retries"`
	CheckRetryDelay     time.Duration `yaml:"check_retry_delay"`
	CheckSingleTimeout  time.Duration `yaml:"check_single_timeout"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	UptimeWindow        time.Duration `yaml:"uptime_window"`
	DisplayTimezone     string        `yaml:"display_timezone"`
	MaxConcurrentProbes int           `yaml:"max_concurrent_probes"`
}

// StorageConfig locates the SQLite database
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	Port int `yaml:"port"`
}

// EndpointConfig seeds the endpoint registry on first start
type EndpointConfig struct {
	Name   string `yaml:"name"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Public bool   `yaml:"public,omitempty"`
}

// NotificationsConfig is loaded from notifications.yaml
type NotificationsConfig struct {
	Channels      map[string]ChannelConfig `yaml:"channels"`
	FlapDetection FlapDetectionConfig      `yaml:"flap_detection"`
}

// Channel types
const (
	ChannelApprise = "apprise"
	ChannelBrevo   = "brevo"
	ChannelLog     = "log"
)

// ChannelConfig defines a notification channel.
// Secrets are never stored in the file, only the names of the env vars holding them.
type ChannelConfig struct {
	Type      string   `yaml:"type"`
	URLEnv    string   `yaml:"url_env,omitempty"`
	APIKeyEnv string   `yaml:"api_key_env,omitempty"`
	From      string   `yaml:"from,omitempty"`
	To        []string `yaml:"to,omitempty"`
}

// FlapDetectionConfig controls flapping annotations on alerts
type FlapDetectionConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}
