package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"drip/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.system_api_key", "GATEWAY_SYSTEM_API_KEY")

	viper.BindEnv("webhook.signing_secret", "WEBHOOK_SIGNING_SECRET")
	viper.BindEnv("encryption.key", "ENCRYPTION_KEY")

	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.delivery_events_topic", "BROKER_KAFKA_DELIVERY_EVENTS_TOPIC")
}

func applyDefaults(cfg *Config) {
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = constants.DefaultSchedulerInterval
	}
	if cfg.Scheduler.BatchLimit <= 0 {
		cfg.Scheduler.BatchLimit = constants.SchedulerBatchLimit
	}
	if cfg.Scheduler.SendWindow.StartHour == 0 && cfg.Scheduler.SendWindow.EndHour == 0 {
		cfg.Scheduler.SendWindow.StartHour = constants.DefaultSendWindowStartHour
		cfg.Scheduler.SendWindow.EndHour = constants.DefaultSendWindowEndHour
	}
	if cfg.Scheduler.FromAddress == "" {
		cfg.Scheduler.FromAddress = constants.DefaultFromAddress
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = constants.DefaultGatewayTimeout
	}
	if cfg.Webhook.SweepInterval <= 0 {
		cfg.Webhook.SweepInterval = constants.DefaultSweepInterval
	}
	if cfg.Webhook.SweepBatchSize <= 0 {
		cfg.Webhook.SweepBatchSize = constants.DefaultLimit
	}
	if cfg.Server.ReadTimeoutSeconds <= 0 {
		cfg.Server.ReadTimeoutSeconds = 15 * time.Second
	}
	if cfg.Server.WriteTimeoutSeconds <= 0 {
		cfg.Server.WriteTimeoutSeconds = 15 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}
