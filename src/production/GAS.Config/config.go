package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Fixed broker identities. The topic and consumer group are part of the
// wire contract with device producers and are not configurable.
const (
	KafkaTopic          = "gas-sensor-readings"
	KafkaGroupID        = "gas-sensor-group"
	KafkaClientID       = "gas-sensor-consumer"
	KafkaAdminClientID  = "topic-creator"
	KafkaTopicPartition = 3
	KafkaReplication    = 1
)

// StoreBackend identifies which persistence implementation a store URI selects.
type StoreBackend string

const (
	StoreMongo    StoreBackend = "mongo"
	StorePostgres StoreBackend = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Store   StoreConfig   `json:"store"`
	Kafka   KafkaConfig   `json:"kafka"`
	Cache   CacheConfig   `json:"cache"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
	CORS    CORSConfig    `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	StaticDir       string        `json:"static_dir"`
}

// StoreConfig holds persistence store configuration
type StoreConfig struct {
	URI            string        `json:"-"`
	DBName         string        `json:"db_name"`
	Collection     string        `json:"collection"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	OpTimeout      time.Duration `json:"op_timeout"`
}

// KafkaConfig holds broker configuration
type KafkaConfig struct {
	Brokers           []string      `json:"brokers"`
	DialTimeout       time.Duration `json:"dial_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	SubscriberEnabled bool          `json:"subscriber_enabled"`
	// SubscriberFailFast stops the service when the subscriber fails instead
	// of reporting it through readiness.
	SubscriberFailFast bool `json:"subscriber_fail_fast"`
}

// CacheConfig holds latest-reading cache configuration. An empty Addr disables the cache.
type CacheConfig struct {
	Addr     string        `json:"addr"`
	Password string        `json:"-"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

// MQTTConfig holds MQTT bridge configuration. An empty BrokerHost disables the bridge.
type MQTTConfig struct {
	BrokerHost       string `json:"broker_host"`
	BrokerPort       int    `json:"broker_port"`
	BrokerUser       string `json:"broker_user"`
	BrokerPass       string `json:"-"`
	UseTLS           bool   `json:"use_tls"`
	CACertPath       string `json:"ca_cert_path"`
	Topic            string `json:"topic"`
	ClientID         string `json:"client_id"`
	SharedGroup      string `json:"shared_group"`
	ErrorTopicPrefix string `json:"error_topic_prefix"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
	MaxAge         int      `json:"max_age"`
}

// Load loads configuration from environment variables with fallback defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	config, err := read()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// LoadBroker loads the same configuration as Load but only validates the
// Kafka section. Broker administration commands use it without a store.
func LoadBroker() (*Config, error) {
	config, err := read()
	if err != nil {
		return nil, err
	}
	if len(config.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errNoBrokers)
	}
	return config, nil
}

var errNoBrokers = errors.New("KAFKA_BROKER must name at least one broker")

func read() (*Config, error) {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	env := &envReader{}
	config := &Config{
		Server: ServerConfig{
			Port:            env.str("PORT", "3000"),
			ReadTimeout:     env.duration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    env.duration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     env.duration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
			StaticDir:       env.str("STATIC_DIR", "public"),
		},
		Store: StoreConfig{
			URI:            env.str("STORE_URI", os.Getenv("MONGODB_URI")),
			DBName:         env.str("DB_NAME", ""),
			Collection:     env.str("COLL_NAME", "sensordatas"),
			ConnectTimeout: env.duration("STORE_CONNECT_TIMEOUT", 20*time.Second),
			OpTimeout:      env.duration("STORE_OP_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:            env.stringSlice("KAFKA_BROKER", []string{"gas-smt6.railway.internal:9092"}),
			DialTimeout:        env.duration("KAFKA_DIAL_TIMEOUT", 10*time.Second),
			WriteTimeout:       env.duration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
			SubscriberEnabled:  env.boolean("SUBSCRIBER_ENABLED", true),
			SubscriberFailFast: env.boolean("SUBSCRIBER_FAIL_FAST", false),
		},
		Cache: CacheConfig{
			Addr:     env.str("REDIS_ADDR", ""),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.integer("REDIS_DB", 0),
			TTL:      env.duration("LATEST_TTL", 24*time.Hour),
		},
		MQTT: MQTTConfig{
			BrokerHost:       env.str("MQTT_BROKER_HOST", ""),
			BrokerPort:       env.integer("MQTT_BROKER_PORT", 1883),
			BrokerUser:       env.str("MQTT_BROKER_USER", ""),
			BrokerPass:       env.str("MQTT_BROKER_PASS", ""),
			UseTLS:           env.boolean("MQTT_TLS", false),
			CACertPath:       env.str("MQTT_CA_FILE", ""),
			Topic:            env.str("MQTT_TOPIC", "gas/+/readings"),
			ClientID:         env.str("MQTT_CLIENT_ID", "gas-mqtt-bridge"),
			SharedGroup:      env.str("MQTT_SHARED_GROUP", ""),
			ErrorTopicPrefix: env.str("MQTT_ERROR_TOPIC_PREFIX", "gas/errors"),
		},
		Logging: LoggingConfig{
			Level:        env.str("LOG_LEVEL", "info"),
			Format:       env.str("LOG_FORMAT", "text"),
			Output:       env.str("LOG_OUTPUT", "stdout"),
			EnableCaller: env.boolean("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.stringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: env.stringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: env.stringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}),
			MaxAge:         env.integer("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("configuration parsing failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store.URI == "" {
		return fmt.Errorf("STORE_URI or MONGODB_URI is required")
	}
	if _, err := c.Store.Backend(); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) == 0 {
		return errNoBrokers
	}
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port <= 0 {
		return fmt.Errorf("invalid PORT %q", c.Server.Port)
	}
	return nil
}

// DefaultDatabase is used when neither DB_NAME nor the URI path names a database.
const DefaultDatabase = "test"

// Database returns DB_NAME when set, otherwise the database in a mongodb URI
// path, otherwise DefaultDatabase. mongodb+srv URIs are resolved through DNS
// here, so call it when connecting.
func (s StoreConfig) Database() string {
	if s.DBName != "" {
		return s.DBName
	}
	if cs, err := connstring.ParseAndValidate(s.URI); err == nil && cs.Database != "" {
		return cs.Database
	}
	return DefaultDatabase
}

// Backend reports which store implementation the URI scheme selects.
func (s StoreConfig) Backend() (StoreBackend, error) {
	u, err := url.Parse(s.URI)
	if err != nil {
		return "", fmt.Errorf("invalid store URI: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mongodb", "mongodb+srv":
		return StoreMongo, nil
	case "postgres", "postgresql":
		return StorePostgres, nil
	default:
		return "", fmt.Errorf("unsupported store URI scheme %q", u.Scheme)
	}
}

// CacheEnabled reports whether a latest-reading cache is configured.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Addr != ""
}

// BridgeEnabled reports whether the MQTT bridge is configured.
func (c *Config) BridgeEnabled() bool {
	return c.MQTT.BrokerHost != ""
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	return c.MQTT.BrokerURL()
}

// BrokerURL is the paho server URL, tcps:// when UseTLS is set.
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

// envReader reads typed environment values and remembers every malformed one.
type envReader struct {
	errs []error
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return duration
}

func (e *envReader) stringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
