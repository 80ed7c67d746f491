// Package config provides configuration loading and validation from a YAML
// file, environment variables and command line flags.
package config

import "time"

// Config holds the complete configuration
type Config struct {
	Session SessionConfig `yaml:"session"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Redis   RedisConfig   `yaml:"redis"`
}

// SessionConfig holds settings shared by command issuers and listeners
type SessionConfig struct {
	// Namespace seeds the command and broadcast channel identities. Callers
	// and listeners must agree on it out of band.
	Namespace       string        `yaml:"namespace"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MQTTConfig holds transport settings applied to every broker connection.
// Broker, ClientID, credentials and Topics are optional: when Broker is set
// the host issues an initial ConnectAndSubscribe with them.
type MQTTConfig struct {
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Topics   []string `yaml:"topics"`
	QoS      byte     `yaml:"qos"`
	// AutoResubscribe marks the initial Topics for replay after reconnection
	AutoResubscribe bool `yaml:"auto_resubscribe"`

	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	SubscribeTimeout     time.Duration `yaml:"subscribe_timeout"`
	DisconnectQuiesce    uint          `yaml:"disconnect_quiesce"` // Milliseconds for graceful disconnect
	KeepAlive            time.Duration `yaml:"keep_alive"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	CleanSession         bool          `yaml:"clean_session"`

	// TLS Configuration
	TLSEnabled   bool   `yaml:"tls_enabled"`
	CACert       string `yaml:"ca_cert"`
	ClientCert   string `yaml:"client_cert"`
	ClientKey    string `yaml:"client_key"`
	InsecureSkip bool   `yaml:"insecure_skip"`
}

// RedisConfig holds the cross-process relay configuration. Commands are read
// from a stream through a consumer group, events are published on a pub/sub
// channel named after the broadcast channel identity.
type RedisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	CommandStream string        `yaml:"command_stream"`
	Group         string        `yaml:"group"`
	Consumer      string        `yaml:"consumer"`
	BatchSize     int           `yaml:"batch_size"`
	EventBuffer   int           `yaml:"event_buffer"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	ErrorBackoff  time.Duration `yaml:"error_backoff"`
	ClaimIdle     time.Duration `yaml:"claim_idle"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PingTimeout   time.Duration `yaml:"ping_timeout"`
}
