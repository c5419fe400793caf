// Package config loads the fleet's YAML configuration, recognizing the
// gateway.*, query.*, and bus/store connection keys described in the
// external interfaces contract.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Query    QueryConfig    `json:"query" yaml:"query"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Bus      BusConfig      `json:"bus" yaml:"bus"`
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
}

// GatewayConfig carries the gateway.* recognized keys.
type GatewayConfig struct {
	Addresses       []string          `json:"addresses" yaml:"addresses"`
	SubscriberName  string            `json:"subscriber_name" yaml:"subscriber_name"`
	Concurrency     string            `json:"concurrency" yaml:"concurrency"`
	RetryAttempts   int               `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMs    int               `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	StreamMapping   map[string]string `json:"stream_mapping" yaml:"stream_mapping"`
	Artemis         ArtemisConfig     `json:"artemis" yaml:"artemis"`
	AllowNoAckDebug bool              `json:"allow_no_ack_debug" yaml:"allow_no_ack_debug"`
}

// ArtemisConfig tunes the broker connection factory's reconnection policy.
type ArtemisConfig struct {
	RetryInterval            time.Duration `json:"retry_interval" yaml:"retry_interval"`
	RetryIntervalMultiplier  float64       `json:"retry_interval_multiplier" yaml:"retry_interval_multiplier"`
	MaxRetryInterval         time.Duration `json:"max_retry_interval" yaml:"max_retry_interval"`
	ReconnectAttempts        int           `json:"reconnect_attempts" yaml:"reconnect_attempts"` // <=0 means infinite
	ClientFailureCheckPeriod time.Duration `json:"client_failure_check_period" yaml:"client_failure_check_period"`
	ConnectionTTL            time.Duration `json:"connection_ttl" yaml:"connection_ttl"`
	RecoveryInterval         time.Duration `json:"recovery_interval" yaml:"recovery_interval"`
}

// QueryConfig carries the query.* recognized keys.
type QueryConfig struct {
	LogFilePath       string `json:"log_file_path" yaml:"log_file_path"`
	PollIntervalMs    int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	TTLDays           int    `json:"ttl_days" yaml:"ttl_days"`
	MaxSamples        int    `json:"max_samples" yaml:"max_samples"`
}

// PostgresConfig is the raw-event store and ingestion-table connection.
type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// BusConfig is the Redis-compatible stream bus connection.
type BusConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// BrokerConfig is the JMS-style broker connection (modeled over AMQP 0-9-1).
type BrokerConfig struct {
	URL string `json:"url" yaml:"url"`
}

// Defaults matching the recognized-keys table.
const (
	DefaultRetryAttempts  = 3
	DefaultRetryDelayMs   = 5000
	DefaultPollIntervalMs = 1000
	DefaultTTLDays        = 15
	DefaultMaxSamples     = 1000
)

// WithDefaults fills in zero-valued recognized keys with their documented
// defaults. It does not validate the result; callers needing fail-fast
// behavior should do so explicitly and raise ridgeline.ConfigError.
func (c *Config) WithDefaults() {
	if c.Gateway.RetryAttempts <= 0 {
		c.Gateway.RetryAttempts = DefaultRetryAttempts
	}
	if c.Gateway.RetryDelayMs <= 0 {
		c.Gateway.RetryDelayMs = DefaultRetryDelayMs
	}
	if c.Gateway.Concurrency == "" {
		c.Gateway.Concurrency = "1-1"
	}
	if c.Query.PollIntervalMs <= 0 {
		c.Query.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Query.TTLDays <= 0 {
		c.Query.TTLDays = DefaultTTLDays
	}
	if c.Query.MaxSamples <= 0 {
		c.Query.MaxSamples = DefaultMaxSamples
	}
}

// LoadConfig reads a YAML (falling back to JSON) document from path,
// substituting ${VAR:-default} environment references before decoding.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		if err := json.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}
	cfg.WithDefaults()
	return &cfg, nil
}

// SaveConfig writes cfg back out as YAML.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} references with the
// environment value, or the default when VAR is unset.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
