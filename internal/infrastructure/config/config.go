package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported MQTT protocol versions.
const (
	ProtocolV5   = "5"
	ProtocolV311 = "3.1.1"
)

// Config is the root configuration structure for TinyMQTT.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Settings SettingsConfig `yaml:"settings"`
	History  HistoryConfig  `yaml:"history"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains client-side MQTT session settings.
//
// Broker address and credentials are not part of this file: they are edited
// at runtime and live in the connection settings store (see SettingsConfig).
type MQTTConfig struct {
	// Protocol selects the wire protocol: "5" (default) or "3.1.1".
	Protocol string `yaml:"protocol"`

	// ClientID identifies the session to the broker.
	// Empty means a random "tinymqtt-<uuid>" id per connection.
	ClientID string `yaml:"client_id"`

	// QoS is used for every publish and subscribe issued by the shell.
	QoS int `yaml:"qos"`

	// TLS switches the transport to TLS 1.2+.
	TLS bool `yaml:"tls"`

	// ConnectTimeout bounds the initial connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// DefaultTopic is the topic subscribed on every connect until changed.
	DefaultTopic string `yaml:"default_topic"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains reconnection delays used after a dropped link.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SettingsConfig locates the connection settings store.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig contains SQLite message history settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Limit is the number of entries listed by "history" without an argument.
	Limit int `yaml:"limit"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TINYMQTT_SECTION_KEY
// For example: TINYMQTT_MQTT_PROTOCOL, TINYMQTT_HISTORY_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Protocol:       ProtocolV5,
			QoS:            0,
			ConnectTimeout: 10,
			DefaultTopic:   "test/topic",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     120,
			},
		},
		Settings: SettingsConfig{
			Path: "./data/connection.yaml",
		},
		History: HistoryConfig{
			Enabled:     true,
			Path:        "./data/history.db",
			WALMode:     true,
			BusyTimeout: 5,
			Limit:       20,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			URL:           "http://127.0.0.1:8086",
			Org:           "tinymqtt",
			Bucket:        "mqtt",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TINYMQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("TINYMQTT_MQTT_PROTOCOL"); v != "" {
		cfg.MQTT.Protocol = v
	}
	if v := os.Getenv("TINYMQTT_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("TINYMQTT_MQTT_DEFAULT_TOPIC"); v != "" {
		cfg.MQTT.DefaultTopic = v
	}

	// Stores
	if v := os.Getenv("TINYMQTT_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("TINYMQTT_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TINYMQTT_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("TINYMQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("TINYMQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	switch c.MQTT.Protocol {
	case ProtocolV5, ProtocolV311:
	default:
		errs = append(errs, fmt.Sprintf("mqtt.protocol must be %q or %q", ProtocolV5, ProtocolV311))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.Reconnect.InitialDelay <= 0 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect delays must be positive and max_delay >= initial_delay")
	}

	// Stores
	if c.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the initial connection timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// GetReconnectDelays returns the initial and maximum reconnect delays.
func (c *Config) GetReconnectDelays() (initial, maxDelay time.Duration) {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second,
		time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}
