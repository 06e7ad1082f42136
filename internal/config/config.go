package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Scheduler      SchedulerConfig
	Gateway        GatewayConfig
	Webhook        WebhookConfig
	Encryption     EncryptionConfig
	API            APIConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers             []string `mapstructure:"brokers"`
	DeliveryEventsTopic string   `mapstructure:"delivery_events_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchLimit int           `mapstructure:"batch_limit"`
	SendWindow SendWindowConfig
	// FromAddress is the envelope sender for all journey mail.
	FromAddress        string `mapstructure:"from_address"`
	UnsubscribeBaseURL string `mapstructure:"unsubscribe_base_url"`
}

type SendWindowConfig struct {
	StartHour int `mapstructure:"start_hour"`
	EndHour   int `mapstructure:"end_hour"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// SystemAPIKey is the fallback credential used when an account has no
	// stored provider key.
	SystemAPIKey string `mapstructure:"system_api_key"`
}

type WebhookConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

type EncryptionConfig struct {
	// Key is the hex-encoded 32-byte AES key for provider credentials.
	Key string `mapstructure:"key"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
