package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateScheduler(cfg.Scheduler); err != nil {
		errors = append(errors, err)
	}

	if err := validateGateway(cfg.Gateway); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "postgres host is required",
		}
	}

	if cfg.Postgres.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "postgres database name is required",
		}
	}

	return nil
}

func validateScheduler(cfg SchedulerConfig) error {
	if cfg.SendWindow.StartHour < 0 || cfg.SendWindow.StartHour > 23 {
		return &ValidationError{
			Field:   "scheduler.send_window.start_hour",
			Message: fmt.Sprintf("start hour must be 0-23, got %d", cfg.SendWindow.StartHour),
		}
	}

	if cfg.SendWindow.EndHour < 1 || cfg.SendWindow.EndHour > 24 {
		return &ValidationError{
			Field:   "scheduler.send_window.end_hour",
			Message: fmt.Sprintf("end hour must be 1-24, got %d", cfg.SendWindow.EndHour),
		}
	}

	if cfg.SendWindow.StartHour >= cfg.SendWindow.EndHour {
		return &ValidationError{
			Field:   "scheduler.send_window",
			Message: "start hour must be before end hour",
		}
	}

	return nil
}

func validateGateway(cfg GatewayConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "gateway.base_url",
			Message: "provider gateway base URL is required",
		}
	}

	return nil
}
