package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for errors and questionable values.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if strings.TrimSpace(cfg.Peer.Address) == "" {
		result.AddError("peer.address", "peer address is required")
	}
	validatePort(cfg.Peer.Port, "peer.port", result)

	if cfg.Client.ReceiveTimeoutMs < 0 {
		result.AddError("client.receive_timeout_ms", "receive timeout must not be negative")
	}
	if cfg.Client.ReceiveTimeoutMs > 5000 {
		result.AddWarning("client.receive_timeout_ms",
			"receive timeouts above 5s delay shutdown by the same amount")
	}

	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		result.AddError("journal.path", "journal path is required when the journal is enabled")
	}
	if cfg.Journal.MaxRows < 0 {
		result.AddError("journal.max_rows", "max_rows must not be negative")
	}
	if cfg.Logging.StatsIntervalSec < 0 {
		result.AddError("logging.stats_interval_sec", "stats interval must not be negative")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if (cfg.MQTT.CertFile == "") != (cfg.MQTT.KeyFile == "") {
			result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
		}
	}

	if cfg.API.Port != 0 {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Peer.Port {
			result.AddWarning("api.port", "API port equals the peer port")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps", "rate limit is disabled")
		}
	}

	return result
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port", port))
	}
}
