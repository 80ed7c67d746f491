package config

import (
	"fmt"

	"github.com/ibs-source/mqtt-session/internal/log"
)

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	return validateRedis(&cfg.Redis)
}

// validateSession validates session configuration
func validateSession(cfg *SessionConfig) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("session namespace cannot be empty")
	}
	if !log.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// validateMQTT validates MQTT configuration
func validateMQTT(cfg *MQTTConfig) error {
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("mqtt connect timeout must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("mqtt write timeout must be positive")
	}
	if cfg.SubscribeTimeout <= 0 {
		return fmt.Errorf("mqtt subscribe timeout must be positive")
	}
	if cfg.Broker != "" && cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty when a broker is configured")
	}
	if cfg.Broker == "" && len(cfg.Topics) > 0 {
		return fmt.Errorf("mqtt topics require a broker")
	}
	if (cfg.ClientCert == "") != (cfg.ClientKey == "") {
		return fmt.Errorf("mqtt client certificate and key must be set together")
	}
	return nil
}

// validateRedis validates Redis configuration. Nothing is checked while the
// relay is disabled.
func validateRedis(cfg *RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Address == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if cfg.CommandStream == "" {
		return fmt.Errorf("redis command stream cannot be empty")
	}
	if cfg.Group == "" {
		return fmt.Errorf("redis group cannot be empty")
	}
	if cfg.Consumer == "" {
		return fmt.Errorf("redis consumer name cannot be empty")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("redis batch size must be positive")
	}
	if cfg.EventBuffer < 1 {
		return fmt.Errorf("redis event buffer must be positive")
	}
	return nil
}
