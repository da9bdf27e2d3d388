package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

// Queue policies applied when the change-event queue is full.
const (
	QueuePolicyBlock = "block"
	QueuePolicyDrop  = "drop"
)

// securePort is the conventional MQTT-over-TLS port.
const securePort = 8883

// Secret holds a credential that must never end up in logs.
type Secret string

// String redacts the value so it is safe to pass to loggers and fmt.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Expose returns the raw credential.
func (s Secret) Expose() string {
	return string(s)
}

// BridgeConfig holds all configuration for the hive bridge worker
type BridgeConfig struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Influx   InfluxConfig   `json:"influx"`
	Logging  LoggingConfig  `json:"logging"`
	Worker   WorkerConfig   `json:"worker"`
}

// ServerConfig holds the health server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password Secret `json:"-"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost     string        `json:"broker_host"`
	BrokerPort     int           `json:"broker_port"`
	BrokerUser     string        `json:"broker_user"`
	BrokerPass     Secret        `json:"-"`
	UseTLS         bool          `json:"use_tls"`
	CACertPath     string        `json:"ca_cert_path"`
	ClientIDPrefix string        `json:"client_id_prefix"`
	KeepAlive      time.Duration `json:"keep_alive"`
	PingTimeout    time.Duration `json:"ping_timeout"`
	OpTimeout      time.Duration `json:"op_timeout"`
	EventBuffer    int           `json:"event_buffer"`
}

// InfluxConfig holds the time-series sink configuration
type InfluxConfig struct {
	BaseURL      string        `json:"base_url"`
	Organization string        `json:"organization"`
	Bucket       string        `json:"bucket"`
	Token        Secret        `json:"-"`
	Timeout      time.Duration `json:"timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// WorkerConfig holds the subscription synchronization and ingestion settings
type WorkerConfig struct {
	NotificationChannel string                `json:"notification_channel"`
	SubscriptionsTable  string                `json:"subscriptions_table"`
	TopicScheme         mqtmodels.TopicScheme `json:"topic_scheme"`
	StrictDecode        bool                  `json:"strict_decode"`
	QueueCapacity       int                   `json:"queue_capacity"`
	QueuePolicy         string                `json:"queue_policy"`
	MinReconnect        time.Duration         `json:"min_reconnect"`
	MaxReconnect        time.Duration         `json:"max_reconnect"`
	RetryBackoff        time.Duration         `json:"retry_backoff"`
}

// LoadBridgeConfig loads configuration for the bridge worker from the environment.
// A .env file in the working directory is honoured when present.
func LoadBridgeConfig() (*BridgeConfig, error) {
	// Environment variables set directly still work without a .env file
	_ = godotenv.Load()

	env := &envReader{}

	brokerPort := env.getInt("BROKER_PORT", 1883)

	cfg := &BridgeConfig{
		Server: ServerConfig{
			Port:         env.getEnv("HEALTH_PORT", "9004"),
			ReadTimeout:  env.getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: env.getDuration("WRITE_TIMEOUT", 10*time.Second),
			CORSOrigins:  env.getList("HEALTH_CORS_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     env.getEnv("POSTGRES_HOST", "localhost"),
			Port:     env.getInt("POSTGRES_PORT", 5432),
			User:     env.getEnv("POSTGRES_USER", ""),
			Password: Secret(env.getEnv("POSTGRES_PASSWORD", "")),
			DBName:   env.getEnv("POSTGRES_DB", "beesbuddy"),
			SSLMode:  env.getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: env.getInt("POSTGRES_MAX_CONNS", 5),
			MinConns: env.getInt("POSTGRES_MIN_CONNS", 1),
		},
		MQTT: MQTTConfig{
			BrokerHost:     env.getEnv("BROKER_HOST", "localhost"),
			BrokerPort:     brokerPort,
			BrokerUser:     env.getEnv("BROKER_USER", ""),
			BrokerPass:     Secret(env.getEnv("BROKER_PASS", "")),
			UseTLS:         env.getBool("BROKER_TLS", brokerPort == securePort),
			CACertPath:     env.getEnv("BROKER_CA_FILE", ""),
			ClientIDPrefix: env.getEnv("MQTT_CLIENT_ID_PREFIX", "hive-bridge"),
			KeepAlive:      env.getDuration("MQTT_KEEP_ALIVE", 5*time.Second),
			PingTimeout:    env.getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			OpTimeout:      env.getDuration("MQTT_OP_TIMEOUT", 10*time.Second),
			EventBuffer:    env.getInt("MQTT_EVENT_BUFFER", 256),
		},
		Influx: InfluxConfig{
			BaseURL:      env.getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Organization: env.getEnv("INFLUXDB_ORG", "beesbuddy"),
			Bucket:       env.getEnv("INFLUXDB_BUCKET", "hives"),
			Token:        Secret(env.getEnv("INFLUXDB_TOKEN", "")),
			Timeout:      env.getDuration("INFLUXDB_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:        env.getEnv("LOG_LEVEL", "info"),
			Format:       env.getEnv("LOG_FORMAT", "json"),
			Output:       env.getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: env.getBool("LOG_ENABLE_CALLER", false),
		},
		Worker: WorkerConfig{
			NotificationChannel: env.getEnv("CHANGEFEED_CHANNEL", "subscriptions_topics"),
			SubscriptionsTable:  env.getEnv("SUBSCRIPTIONS_TABLE", "subscriptions_topics"),
			TopicScheme:         mqtmodels.TopicScheme(strings.ToLower(env.getEnv("TOPIC_SCHEME", string(mqtmodels.TopicSchemePrefixDevice)))),
			StrictDecode:        env.getBool("CHANGEFEED_STRICT_DECODE", false),
			QueueCapacity:       env.getInt("CHANGEFEED_QUEUE_CAPACITY", 0),
			QueuePolicy:         strings.ToLower(env.getEnv("CHANGEFEED_QUEUE_POLICY", QueuePolicyBlock)),
			MinReconnect:        env.getDuration("CHANGEFEED_MIN_RECONNECT", 10*time.Second),
			MaxReconnect:        env.getDuration("CHANGEFEED_MAX_RECONNECT", time.Minute),
			RetryBackoff:        env.getDuration("BROKER_RETRY_BACKOFF", 60*time.Second),
		},
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("configuration parsing failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *BridgeConfig) Validate() error {
	var errs []error

	if c.Database.User == "" {
		errs = append(errs, fmt.Errorf("POSTGRES_USER is required"))
	}
	if c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("POSTGRES_PASSWORD is required"))
	}
	if c.MQTT.BrokerHost == "" {
		errs = append(errs, fmt.Errorf("BROKER_HOST is required"))
	}
	if c.MQTT.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("MQTT_EVENT_BUFFER must be positive"))
	}
	if c.Influx.BaseURL == "" {
		errs = append(errs, fmt.Errorf("INFLUXDB_URL is required"))
	}
	if c.Influx.Organization == "" || c.Influx.Bucket == "" {
		errs = append(errs, fmt.Errorf("INFLUXDB_ORG and INFLUXDB_BUCKET are required"))
	}
	if c.Influx.Token == "" {
		errs = append(errs, fmt.Errorf("INFLUXDB_TOKEN is required"))
	}
	if _, err := mqtmodels.ParseTopicScheme(string(c.Worker.TopicScheme)); err != nil {
		errs = append(errs, fmt.Errorf("invalid TOPIC_SCHEME: %w", err))
	}
	switch c.Worker.QueuePolicy {
	case QueuePolicyBlock, QueuePolicyDrop:
	default:
		errs = append(errs, fmt.Errorf("invalid CHANGEFEED_QUEUE_POLICY %q (allowed: %s, %s)", c.Worker.QueuePolicy, QueuePolicyBlock, QueuePolicyDrop))
	}
	if c.Worker.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("CHANGEFEED_QUEUE_CAPACITY must not be negative"))
	}
	if c.Worker.NotificationChannel == "" {
		errs = append(errs, fmt.Errorf("CHANGEFEED_CHANNEL is required"))
	}
	if c.Worker.MinReconnect <= 0 || c.Worker.MaxReconnect < c.Worker.MinReconnect {
		errs = append(errs, fmt.Errorf("CHANGEFEED_MIN_RECONNECT must be positive and not exceed CHANGEFEED_MAX_RECONNECT"))
	}

	return errors.Join(errs...)
}

// GetDatabaseDSN returns the database connection string
func (c *BridgeConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password.Expose(), c.Database.DBName, c.Database.SSLMode)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *BridgeConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

// envReader reads typed environment variables and remembers every malformed value.
type envReader struct {
	errs []error
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getList splits a comma separated value, dropping empty entries
func (r *envReader) getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
		return defaultValue
	}
	return intValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("invalid %s %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
		return defaultValue
	}
	return duration
}
