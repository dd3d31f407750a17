// Package config loads the service configuration from the environment.
//
// Every setting has a default so an empty environment starts an in-process
// service: SQLite storage, the in-memory event bus and local task locks.
// Redis, the external brokers, the data providers and the extra event
// sources are enabled by setting their variables (see DESIGN.md for the
// full table).
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"task-router/internal/common/validation"
)

// Config holds all configuration values
type Config struct {
	Port        string
	TLSCertFile string
	TLSKeyFile  string

	Engine   EngineConfig
	Database DatabaseConfig
	Redis    RedisConfig

	// LockBackend selects the task lock manager: local or redis
	LockBackend string

	Broker    BrokerConfig
	Providers ProvidersConfig

	// ScheduledEvents lists timed events as "cron=SUBJECT;cron=SUBJECT"
	ScheduledEvents string

	IMAP IMAPConfig

	// EventRateLimit bounds POST /api/events per client address
	EventRateLimit RateLimitConfig
}

// RateLimitConfig bounds a request rate. Zero requests per second disables it.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// EngineConfig holds the dispatch engine settings
type EngineConfig struct {
	// ErrorThreshold is the number of consecutive errors that disables a task
	ErrorThreshold  int
	ProviderTimeout time.Duration
	RelayTimeout    time.Duration
}

// DatabaseConfig selects and configures the task store
type DatabaseConfig struct {
	Type string
	Path string
	URL  string

	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
}

// RedisConfig configures the shared Redis client. An empty address disables Redis.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Enabled reports whether a Redis address is configured
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// BrokerConfig selects and configures the event bus
type BrokerConfig struct {
	Type          string
	ConsumerGroup string

	RabbitMQURL string

	KafkaBrokers string
	KafkaGroupID string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSQueueURL        string
	AWSTopicARN        string

	GCPProjectID       string
	GCPCredentialsFile string
}

// ProvidersConfig configures the data providers. Each is enabled by its main setting.
type ProvidersConfig struct {
	HTTPName     string
	HTTPURL      string
	HTTPTypes    []string
	HTTPToken    string
	HTTPCacheTTL time.Duration

	HTTPMaxIdleConns       int
	HTTPInsecureSkipVerify bool

	RedisName  string
	RedisTypes []string

	VCardFile string
	ICalFile  string
}

// IMAPConfig configures the mailbox event source. An empty host disables it.
type IMAPConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	Token        string
	Auth         string
	Folder       string
	UseTLS       bool
	PollInterval time.Duration
	Subject      string
}

// Enabled reports whether the mailbox source is configured
func (c IMAPConfig) Enabled() bool {
	return c.Host != ""
}

// Load reads the configuration from the environment. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		Engine: EngineConfig{
			ErrorThreshold:  getIntEnv("TASK_POSSIBLE_ERRORS", 5),
			ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
			RelayTimeout:    getDurationEnv("RELAY_TIMEOUT", 5*time.Second),
		},

		Database: DatabaseConfig{
			Type:             getEnv("DATABASE_TYPE", "sqlite"),
			Path:             getEnv("DATABASE_PATH", "./tasks.db"),
			URL:              getEnv("DATABASE_URL", ""),
			PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
			PostgresPort:     getIntEnv("POSTGRES_PORT", 5432),
			PostgresDB:       getEnv("POSTGRES_DB", "tasks"),
			PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
			PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
			PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},

		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		},

		LockBackend: getEnv("LOCK_BACKEND", "local"),

		Broker: BrokerConfig{
			Type:               getEnv("BROKER_TYPE", "memory"),
			ConsumerGroup:      getEnv("BROKER_CONSUMER_GROUP", "task-router"),
			RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
			KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
			KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "task-router"),
			AWSRegion:          getEnv("AWS_REGION", ""),
			AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AWSQueueURL:        getEnv("AWS_QUEUE_URL", ""),
			AWSTopicARN:        getEnv("AWS_TOPIC_ARN", ""),
			GCPProjectID:       getEnv("GCP_PROJECT_ID", ""),
			GCPCredentialsFile: getEnv("GCP_CREDENTIALS_FILE", ""),
		},

		Providers: ProvidersConfig{
			HTTPName:     getEnv("HTTP_PROVIDER_NAME", "HTTP"),
			HTTPURL:      getEnv("HTTP_PROVIDER_URL", ""),
			HTTPTypes:    getListEnv("HTTP_PROVIDER_TYPES"),
			HTTPToken:    getEnv("HTTP_PROVIDER_TOKEN", ""),
			HTTPCacheTTL: getDurationEnv("HTTP_PROVIDER_CACHE_TTL", time.Minute),

			HTTPMaxIdleConns:       getIntEnv("HTTP_PROVIDER_MAX_IDLE_CONNS", 0),
			HTTPInsecureSkipVerify: getBoolEnv("HTTP_PROVIDER_INSECURE_SKIP_VERIFY", false),
			RedisName:    getEnv("REDIS_PROVIDER_NAME", "REDIS"),
			RedisTypes:   getListEnv("REDIS_PROVIDER_TYPES"),
			VCardFile:    getEnv("VCARD_PROVIDER_FILE", ""),
			ICalFile:     getEnv("ICAL_PROVIDER_FILE", ""),
		},

		ScheduledEvents: getEnv("SCHEDULED_EVENTS", ""),

		IMAP: IMAPConfig{
			Host:         getEnv("IMAP_HOST", ""),
			Port:         getIntEnv("IMAP_PORT", 993),
			Username:     getEnv("IMAP_USERNAME", ""),
			Password:     getEnv("IMAP_PASSWORD", ""),
			Token:        getEnv("IMAP_TOKEN", ""),
			Auth:         getEnv("IMAP_AUTH", "login"),
			Folder:       getEnv("IMAP_FOLDER", "INBOX"),
			UseTLS:       getBoolEnv("IMAP_USE_TLS", true),
			PollInterval: getDurationEnv("IMAP_POLL_INTERVAL", time.Minute),
			Subject:      getEnv("IMAP_SUBJECT", "MAIL_RECEIVED"),
		},

		EventRateLimit: RateLimitConfig{
			RequestsPerSecond: getIntEnv("EVENT_RATE_LIMIT", 0),
			Burst:             getIntEnv("EVENT_RATE_BURST", 0),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("10s") or a bare number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping blanks
func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// PostgresDSN returns DATABASE_URL or a URL built from the POSTGRES_* settings
func (d DatabaseConfig) PostgresDSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.PostgresUser, d.PostgresPassword, d.PostgresHost, d.PostgresPort, d.PostgresDB, d.PostgresSSLMode)
}

// Validate checks every setting and reports all problems at once
func (c *Config) Validate() error {
	var result *multierror.Error

	v := validation.NewValidator()

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		result = multierror.Append(result, fmt.Errorf("PORT must be a valid port number between 1 and 65535"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		result = multierror.Append(result, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}

	v.RequireNonNegative(c.Engine.ErrorThreshold, "TASK_POSSIBLE_ERRORS")
	if c.Engine.ProviderTimeout < 0 || c.Engine.RelayTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("PROVIDER_TIMEOUT and RELAY_TIMEOUT must not be negative"))
	}

	v.RequireOneOf(c.Database.Type, []string{"sqlite", "postgres", "postgresql", "memory"}, "DATABASE_TYPE")
	switch c.Database.Type {
	case "sqlite":
		v.RequireString(c.Database.Path, "DATABASE_PATH")
	case "postgres", "postgresql":
		if c.Database.URL == "" {
			v.RequireString(c.Database.PostgresHost, "POSTGRES_HOST").
				RequireString(c.Database.PostgresDB, "POSTGRES_DB").
				RequireString(c.Database.PostgresUser, "POSTGRES_USER")
			if c.Database.PostgresPort < 1 || c.Database.PostgresPort > 65535 {
				result = multierror.Append(result, fmt.Errorf("POSTGRES_PORT must be a valid port number"))
			}
		}
	}

	if c.Redis.Enabled() {
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			result = multierror.Append(result, fmt.Errorf("REDIS_DB must be a number between 0 and 15"))
		}
		v.RequirePositive(c.Redis.PoolSize, "REDIS_POOL_SIZE")
	}

	v.RequireNonNegative(c.Providers.HTTPMaxIdleConns, "HTTP_PROVIDER_MAX_IDLE_CONNS")
	v.RequireNonNegative(c.EventRateLimit.RequestsPerSecond, "EVENT_RATE_LIMIT").
		RequireNonNegative(c.EventRateLimit.Burst, "EVENT_RATE_BURST")

	v.RequireOneOf(c.LockBackend, []string{"local", "redis"}, "LOCK_BACKEND")
	if c.LockBackend == "redis" && !c.Redis.Enabled() {
		result = multierror.Append(result, fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ADDRESS"))
	}

	v.RequireOneOf(c.Broker.Type, validation.BrokerTypes, "BROKER_TYPE")
	switch c.Broker.Type {
	case "redis":
		if !c.Redis.Enabled() {
			result = multierror.Append(result, fmt.Errorf("BROKER_TYPE=redis requires REDIS_ADDRESS"))
		}
	case "rabbitmq":
		v.RequireString(c.Broker.RabbitMQURL, "RABBITMQ_URL")
	case "kafka":
		v.RequireString(c.Broker.KafkaBrokers, "KAFKA_BROKERS")
	case "aws":
		v.RequireString(c.Broker.AWSRegion, "AWS_REGION").
			RequireString(c.Broker.AWSQueueURL, "AWS_QUEUE_URL")
	case "gcp":
		v.RequireString(c.Broker.GCPProjectID, "GCP_PROJECT_ID")
	}

	if c.Providers.HTTPURL != "" {
		v.RequireURL(strings.NewReplacer("{type}", "type", "{query}", "").Replace(c.Providers.HTTPURL), "HTTP_PROVIDER_URL")
		if len(c.Providers.HTTPTypes) == 0 {
			result = multierror.Append(result, fmt.Errorf("HTTP_PROVIDER_TYPES is required when HTTP_PROVIDER_URL is set"))
		}
	}
	if len(c.Providers.RedisTypes) > 0 && !c.Redis.Enabled() {
		result = multierror.Append(result, fmt.Errorf("REDIS_PROVIDER_TYPES requires REDIS_ADDRESS"))
	}

	for _, entry := range splitSchedules(c.ScheduledEvents) {
		expr, subject, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(subject) == "" {
			result = multierror.Append(result, fmt.Errorf("SCHEDULED_EVENTS entry %q must be cron=SUBJECT", entry))
			continue
		}
		v.RequireCron(strings.TrimSpace(expr), "SCHEDULED_EVENTS")
	}

	if c.IMAP.Enabled() {
		v.RequireString(c.IMAP.Username, "IMAP_USERNAME").
			RequireOneOf(c.IMAP.Auth, []string{"login", "plain", "oauth2"}, "IMAP_AUTH")
		if c.IMAP.Auth == "oauth2" {
			v.RequireString(c.IMAP.Token, "IMAP_TOKEN")
		}
		if c.IMAP.PollInterval < time.Second {
			result = multierror.Append(result, fmt.Errorf("IMAP_POLL_INTERVAL must be at least 1s"))
		}
	}

	for _, fe := range v.FieldErrors() {
		result = multierror.Append(result, fmt.Errorf("%s", fe.Message))
	}
	return result.ErrorOrNil()
}

func splitSchedules(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ";") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
