package config

import "time"

// DefaultNamespace is the namespace used when none is configured
const DefaultNamespace = "net.igenius.mqtt"

// defaultSessionConfig returns the default session configuration
func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		Namespace:       DefaultNamespace,
		LogLevel:        "INFO",
		ShutdownTimeout: 30 * time.Second,
	}
}

// defaultMQTTConfig returns the default MQTT configuration
func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         30 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		DisconnectQuiesce:    1000,
		KeepAlive:            60 * time.Second,
		PingTimeout:          10 * time.Second,
		MaxReconnectInterval: 10 * time.Second,
		AutoReconnect:        true,
		CleanSession:         true,
	}
}

// defaultRedisConfig returns the default Redis relay configuration.
// CommandStream, Group and Consumer are derived at load time when empty.
func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Address:      "localhost:6379",
		BatchSize:    100,
		EventBuffer:  1024,
		BlockTimeout: 5 * time.Second,
		ErrorBackoff: 1 * time.Second,
		ClaimIdle:    30 * time.Second,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Session: defaultSessionConfig(),
		MQTT:    defaultMQTTConfig(),
		Redis:   defaultRedisConfig(),
	}
}
