package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the shortest accepted API signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for the Reclaim controller client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Broker   BrokerConfig   `yaml:"broker"`
	Polling  PollingConfig  `yaml:"polling"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies the controller.
type DeviceConfig struct {
	// Identifier is the 17-digit decimal device ID printed on the controller.
	Identifier string `yaml:"identifier"`

	// ChecksumWidth is the hex width used for checksum validation (14 or 16).
	ChecksumWidth int `yaml:"checksum_width"`
}

// BrokerConfig contains the cloud MQTT broker connection details.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`

	// KeepAlive is the MQTT keepalive in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout bounds a single connection attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	Certificates CertificatesConfig `yaml:"certificates"`
}

// CertificatesConfig holds the paths of the three mutual-TLS artifacts.
// They are issued out of band and must exist before the session starts.
type CertificatesConfig struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	PrivateKey string `yaml:"private_key"`
}

// PollingConfig contains the state refresh cadence, in seconds.
type PollingConfig struct {
	// FastInterval applies while the pump is running or drawing power.
	FastInterval int `yaml:"fast_interval"`

	// SlowInterval applies while the unit is idle.
	SlowInterval int `yaml:"slow_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig contains state history retention settings.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
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

// APIConfig contains the local HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// JWTSecret signs API tokens. At least 32 characters.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the lifetime of tokens minted by the CLI, in hours.
	TokenTTL int `yaml:"token_ttl"`

	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// TimeoutConfig contains HTTP server timeouts in seconds.
type TimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket settings.
type WebSocketConfig struct {
	// PingInterval is seconds between server pings.
	PingInterval int `yaml:"ping_interval"`

	// PongTimeout is seconds to wait for a pong.
	PongTimeout int `yaml:"pong_timeout"`

	// MaxMessageSize is the largest inbound message in bytes.
	MaxMessageSize int `yaml:"max_message_size"`
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
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RECLAIM_SECTION_KEY
// For example: RECLAIM_DEVICE_IDENTIFIER, RECLAIM_BROKER_HOST
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ChecksumWidth: 14,
		},
		Broker: BrokerConfig{
			Host:           "iot.dontek.com.au",
			Port:           8883,
			KeepAlive:      60,
			ConnectTimeout: 10,
			Certificates: CertificatesConfig{
				CACert:     "./certs/ca.pem",
				ClientCert: "./certs/client.pem",
				PrivateKey: "./certs/client.key",
			},
		},
		Polling: PollingConfig{
			FastInterval: 30,
			SlowInterval: 300,
		},
		Database: DatabaseConfig{
			Path:        "./data/reclaim.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "reclaim",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host:     "127.0.0.1",
			Port:     8080,
			TokenTTL: 720,
			Timeouts: TimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  120,
			},
			WebSocket: WebSocketConfig{
				PingInterval:   30,
				PongTimeout:    10,
				MaxMessageSize: 4096,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RECLAIM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("RECLAIM_DEVICE_IDENTIFIER"); v != "" {
		cfg.Device.Identifier = v
	}
	if v := os.Getenv("RECLAIM_DEVICE_CHECKSUM_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.ChecksumWidth = n
		}
	}

	// Broker
	if v := os.Getenv("RECLAIM_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("RECLAIM_BROKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = n
		}
	}
	if v := os.Getenv("RECLAIM_BROKER_CA_CERT"); v != "" {
		cfg.Broker.Certificates.CACert = v
	}
	if v := os.Getenv("RECLAIM_BROKER_CLIENT_CERT"); v != "" {
		cfg.Broker.Certificates.ClientCert = v
	}
	if v := os.Getenv("RECLAIM_BROKER_PRIVATE_KEY"); v != "" {
		cfg.Broker.Certificates.PrivateKey = v
	}

	// Database
	if v := os.Getenv("RECLAIM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("RECLAIM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("RECLAIM_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("RECLAIM_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// Logging
	if v := os.Getenv("RECLAIM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// The identifier checksum itself is not verified here; that is the job of
// the reclaim package, which reports a typed error.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Identifier == "" {
		errs = append(errs, "device.identifier is required (set RECLAIM_DEVICE_IDENTIFIER environment variable)")
	}
	if c.Device.ChecksumWidth != 14 && c.Device.ChecksumWidth != 16 {
		errs = append(errs, "device.checksum_width must be 14 or 16")
	}

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	certs := c.Broker.Certificates
	if certs.CACert == "" || certs.ClientCert == "" || certs.PrivateKey == "" {
		errs = append(errs, "broker.certificates requires ca_cert, client_cert and private_key")
	}

	// Polling validation
	if c.Polling.FastInterval < 1 {
		errs = append(errs, "polling.fast_interval must be at least 1 second")
	}
	if c.Polling.SlowInterval < c.Polling.FastInterval {
		errs = append(errs, "polling.slow_interval must not be shorter than polling.fast_interval")
	}

	// History validation
	if c.History.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when history is enabled")
		}
		if c.History.RetentionDays < 1 {
			errs = append(errs, "history.retention_days must be at least 1")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if len(c.API.JWTSecret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("api.jwt_secret must be at least %d characters (set RECLAIM_API_JWT_SECRET environment variable)", minJWTSecretLength))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetFastInterval returns the fast polling interval as a Duration.
func (c *Config) GetFastInterval() time.Duration {
	return time.Duration(c.Polling.FastInterval) * time.Second
}

// GetSlowInterval returns the slow polling interval as a Duration.
func (c *Config) GetSlowInterval() time.Duration {
	return time.Duration(c.Polling.SlowInterval) * time.Second
}

// GetTokenTTL returns the API token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.TokenTTL) * time.Hour
}

// GetRetention returns the history retention period as a Duration.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
