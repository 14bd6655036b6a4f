package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the vcontrold bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Heating  HeatingConfig  `yaml:"heating"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Valkey   ValkeyConfig   `yaml:"valkey"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DaemonConfig contains vcontrold connection settings.
type DaemonConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prompt string `yaml:"prompt"`

	// Timeouts in milliseconds.
	DialTimeoutMS  int `yaml:"dial_timeout_ms"`
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
	ReadTimeoutMS  int `yaml:"read_timeout_ms"`
	SyncTimeoutMS  int `yaml:"sync_timeout_ms"`

	ConnectAttempts  int `yaml:"connect_attempts"`
	ConnectBackoffMS int `yaml:"connect_backoff_ms"`
	CommandAttempts  int `yaml:"command_attempts"`

	// Managed runs vcontrold as a child process instead of expecting an
	// external one.
	Managed ManagedDaemonConfig `yaml:"managed"`
}

// ManagedDaemonConfig controls the supervised vcontrold process.
type ManagedDaemonConfig struct {
	Enabled bool `yaml:"enabled"`

	// Binary is the vcontrold executable. Default: /usr/sbin/vcontrold.
	Binary string `yaml:"binary"`

	// XMLFile is the vcontrold.xml with the device definition.
	// Default: /etc/vcontrold/vcontrold.xml.
	XMLFile string `yaml:"xml_file"`

	// Device is the serial interface (e.g. /dev/ttyUSB0). Empty uses the
	// value from the XML file.
	Device string `yaml:"device"`

	// ExtraArgs are appended to the generated command line.
	ExtraArgs []string `yaml:"extra_args"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelay        int  `yaml:"restart_delay"`     // seconds
	MaxRestartDelay     int  `yaml:"max_restart_delay"` // seconds
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`
	HealthCheckInterval int  `yaml:"health_check_interval"` // seconds
}

// HeatingConfig describes the heating system behind the daemon.
type HeatingConfig struct {
	// Name is the display name used for discovery. Default: "Vitodens".
	Name string `yaml:"name"`

	// Type selects the sensor set: generic, gas, heatpump or fuelcell.
	Type string `yaml:"type"`

	// PollInterval is the time between poll cycles in seconds. Default: 60.
	PollInterval int `yaml:"poll_interval"`

	// DeviceID overrides the inventory identifier in MQTT topics. When
	// empty the daemon's inventory id is used.
	DeviceID string `yaml:"device_id"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls local reading history.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// RetentionDays is how long readings are kept. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`

	// AuditCommands records every write command and its outcome.
	AuditCommands bool `yaml:"audit_commands"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of state and command topics. Default: "vcontrold".
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix is the Home Assistant discovery root. Empty disables
	// discovery. Default: "homeassistant".
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// HealthInterval is the health publish period in seconds. Default: 30.
	HealthInterval int `yaml:"health_interval"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// ValkeyConfig contains Valkey/Redis latest-value cache settings.
type ValkeyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	Database  int    `yaml:"database"`
	KeyPrefix string `yaml:"key_prefix"`

	// TTL is the key expiry in seconds. 0 keeps keys forever.
	TTL int `yaml:"ttl"`

	// PublishChanges also publishes every reading on a pub/sub channel.
	PublishChanges bool `yaml:"publish_changes"`
}

// KafkaConfig contains Kafka reading-event settings.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int      `yaml:"required_acks"`
	BatchTimeout int      `yaml:"batch_timeout_ms"`
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
// Environment variables follow the pattern: VCONTROLD_SECTION_KEY
// For example: VCONTROLD_DAEMON_HOST, VCONTROLD_MQTT_PASSWORD
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

// Default returns the built-in configuration, with environment overrides
// applied. Used when no config file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Host:             "127.0.0.1",
			Port:             3002,
			Prompt:           "vctrld>",
			DialTimeoutMS:    5000,
			WriteTimeoutMS:   5000,
			ReadTimeoutMS:    1000,
			SyncTimeoutMS:    500,
			ConnectAttempts:  3,
			ConnectBackoffMS: 1000,
			CommandAttempts:  3,
			Managed: ManagedDaemonConfig{
				Binary:              "/usr/sbin/vcontrold",
				XMLFile:             "/etc/vcontrold/vcontrold.xml",
				RestartOnFailure:    true,
				RestartDelay:        5,
				MaxRestartDelay:     300,
				MaxRestartAttempts:  10,
				HealthCheckInterval: 30,
			},
		},
		Heating: HeatingConfig{
			Name:         "Vitodens",
			Type:         "generic",
			PollInterval: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/vcontrold.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			AuditCommands: true,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vcontrold-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix:     "vcontrold",
			DiscoveryPrefix: "homeassistant",
			HealthInterval:  30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Valkey: ValkeyConfig{
			Address:   "localhost:6379",
			KeyPrefix: "vcontrold",
		},
		Kafka: KafkaConfig{
			Topic:        "vcontrold.readings",
			RequiredAcks: 1,
			BatchTimeout: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VCONTROLD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Daemon
	if v := os.Getenv("VCONTROLD_DAEMON_HOST"); v != "" {
		cfg.Daemon.Host = v
	}
	if v := os.Getenv("VCONTROLD_DAEMON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Daemon.Port = port
		}
	}
	if v := os.Getenv("VCONTROLD_DAEMON_MANAGED"); v != "" {
		if managed, err := strconv.ParseBool(v); err == nil {
			cfg.Daemon.Managed.Enabled = managed
		}
	}

	// Heating
	if v := os.Getenv("VCONTROLD_HEATING_TYPE"); v != "" {
		cfg.Heating.Type = v
	}

	// Database
	if v := os.Getenv("VCONTROLD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VCONTROLD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VCONTROLD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VCONTROLD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("VCONTROLD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Sinks
	if v := os.Getenv("VCONTROLD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("VCONTROLD_VALKEY_PASSWORD"); v != "" {
		cfg.Valkey.Password = v
	}
	if v := os.Getenv("VCONTROLD_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}

// heatingTypes lists the accepted heating.type values.
var heatingTypes = map[string]bool{
	"generic":  true,
	"gas":      true,
	"heatpump": true,
	"fuelcell": true,
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Daemon
	if c.Daemon.Host == "" {
		errs = append(errs, "daemon.host is required")
	}
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		errs = append(errs, "daemon.port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Daemon.Prompt) == "" {
		errs = append(errs, "daemon.prompt is required")
	}
	if c.Daemon.ConnectAttempts < 1 || c.Daemon.CommandAttempts < 1 {
		errs = append(errs, "daemon.connect_attempts and daemon.command_attempts must be at least 1")
	}
	if c.Daemon.ReadTimeoutMS <= 0 || c.Daemon.SyncTimeoutMS <= 0 {
		errs = append(errs, "daemon.read_timeout_ms and daemon.sync_timeout_ms must be positive")
	}
	if m := c.Daemon.Managed; m.Enabled {
		if m.Binary == "" || m.XMLFile == "" {
			errs = append(errs, "daemon.managed.binary and daemon.managed.xml_file are required when managed")
		}
		if !isLocalHost(c.Daemon.Host) {
			errs = append(errs, "daemon.host must be local when daemon.managed is enabled")
		}
	}

	// Heating
	if !heatingTypes[c.Heating.Type] {
		errs = append(errs, "heating.type must be generic, gas, heatpump, or fuelcell")
	}
	if c.Heating.PollInterval < 1 {
		errs = append(errs, "heating.poll_interval must be at least 1 second")
	}

	// Database
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Sinks
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Valkey.Enabled && c.Valkey.Address == "" {
		errs = append(errs, "valkey.address is required when valkey is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, "kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func isLocalHost(host string) bool {
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return false
}

// GetPollInterval returns the poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Heating.PollInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetRetention returns the history retention window. Zero means forever.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// Milliseconds converts a millisecond config value to a Duration.
func Milliseconds(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
