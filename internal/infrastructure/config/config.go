package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SODS identity core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Resolver ResolverConfig `yaml:"resolver"`
	Masking  MaskingConfig  `yaml:"masking"`
}

// SiteConfig identifies the deployment this core belongs to.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite registry settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains optional sighting telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the read-only HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ResolverConfig contains the identity resolution engine tunables.
type ResolverConfig struct {
	// Workers is the number of decision workers. Observations are routed
	// to a worker by fingerprint hash so that all observations for one
	// fingerprint key are serialised through the same worker.
	Workers int `yaml:"workers"`

	// MergeWindowMS is the multi-scanner correlation window in milliseconds,
	// measured from the first observation in a cluster.
	MergeWindowMS int `yaml:"merge_window_ms"`

	// CandidateTTLMinutes bounds how long an unconfirmed candidate identity
	// is retained without corroborating observations.
	CandidateTTLMinutes int `yaml:"candidate_ttl_minutes"`

	// MaxCandidates bounds the in-memory candidate set; the stalest entry
	// is evicted when the cap is reached.
	MaxCandidates int `yaml:"max_candidates"`

	// MaxClusters bounds the number of open merge-window clusters per worker.
	MaxClusters int `yaml:"max_clusters"`
}

// MaskingConfig contains vendor mask table settings.
type MaskingConfig struct {
	// RulesFile is an optional YAML file of per-vendor mask rules that
	// overrides/extends the built-in defaults.
	RulesFile string `yaml:"rules_file"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SODS_SECTION_KEY
// For example: SODS_DATABASE_PATH, SODS_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default resolver tunables.
const (
	defaultWorkers             = 4
	defaultMergeWindowMS       = 5000
	defaultCandidateTTLMinutes = 15
	defaultMaxCandidates       = 4096
	defaultMaxClusters         = 1024
)

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "SODS",
		},
		Database: DatabaseConfig{
			Path:        "./data/sods-identity.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sods-identity-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8086,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Resolver: ResolverConfig{
			Workers:             defaultWorkers,
			MergeWindowMS:       defaultMergeWindowMS,
			CandidateTTLMinutes: defaultCandidateTTLMinutes,
			MaxCandidates:       defaultMaxCandidates,
			MaxClusters:         defaultMaxClusters,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SODS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SODS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SODS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SODS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SODS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SODS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SODS_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("SODS_MASKING_RULES_FILE"); v != "" {
		cfg.Masking.RulesFile = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Resolver.Workers < 1 {
		errs = append(errs, "resolver.workers must be at least 1")
	}
	if c.Resolver.MergeWindowMS < 1 {
		errs = append(errs, "resolver.merge_window_ms must be positive")
	}
	if c.Resolver.CandidateTTLMinutes < 1 {
		errs = append(errs, "resolver.candidate_ttl_minutes must be positive")
	}
	if c.Resolver.MaxCandidates < 1 {
		errs = append(errs, "resolver.max_candidates must be positive")
	}
	if c.Resolver.MaxClusters < 1 {
		errs = append(errs, "resolver.max_clusters must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// MergeWindow returns the merge window as a Duration.
func (c *Config) MergeWindow() time.Duration {
	return time.Duration(c.Resolver.MergeWindowMS) * time.Millisecond
}

// CandidateTTL returns the candidate retention window as a Duration.
func (c *Config) CandidateTTL() time.Duration {
	return time.Duration(c.Resolver.CandidateTTLMinutes) * time.Minute
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
