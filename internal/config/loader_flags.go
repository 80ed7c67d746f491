package config

import (
	"flag"
	"time"
)

// flagValues holds pointers to every registered command line flag.
// Flags have precedence over environment variables.
type flagValues struct {
	configFile *string

	// Session flags
	namespace       *string
	logLevel        *string
	shutdownTimeout *time.Duration

	// MQTT flags
	mqttBroker            *string
	mqttClientID          *string
	mqttUsername          *string
	mqttPassword          *string
	mqttTopics            *string
	mqttQoS               *int
	mqttAutoResubscribe   *bool
	mqttConnectTimeout    *time.Duration
	mqttWriteTimeout      *time.Duration
	mqttSubscribeTimeout  *time.Duration
	mqttDisconnectQuiesce *int
	mqttKeepAlive         *time.Duration
	mqttPingTimeout       *time.Duration
	mqttMaxReconnect      *time.Duration
	mqttAutoReconnect     *bool
	mqttCleanSession      *bool
	mqttTLSEnabled        *bool
	mqttCACert            *string
	mqttClientCert        *string
	mqttClientKey         *string
	mqttTLSInsecureSkip   *bool

	// Redis flags
	redisEnabled       *bool
	redisAddress       *string
	redisCommandStream *string
	redisGroup         *string
	redisConsumer      *string
	redisBatchSize     *int
	redisEventBuffer   *int
	redisBlockTimeout  *time.Duration
	redisErrorBackoff  *time.Duration
	redisClaimIdle     *time.Duration
	redisDialTimeout   *time.Duration
	redisReadTimeout   *time.Duration
	redisWriteTimeout  *time.Duration
	redisPingTimeout   *time.Duration
}

var cliFlags = registerFlags(flag.CommandLine)

// registerFlags defines every configuration flag on fs.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		configFile: fs.String("config", "", "Path to a YAML configuration file"),

		namespace:       fs.String("namespace", "", "Namespace shared by command issuers and listeners"),
		logLevel:        fs.String("log-level", "", "Log level (DEBUG, INFO, ERROR, OFF)"),
		shutdownTimeout: fs.Duration("shutdown-timeout", 0, "Graceful shutdown timeout"),

		mqttBroker:            fs.String("mqtt-broker", "", "MQTT broker URL for the initial connection"),
		mqttClientID:          fs.String("mqtt-client-id", "", "MQTT client ID for the initial connection"),
		mqttUsername:          fs.String("mqtt-username", "", "MQTT username"),
		mqttPassword:          fs.String("mqtt-password", "", "MQTT password"),
		mqttTopics:            fs.String("mqtt-topics", "", "Comma separated topics for the initial subscription"),
		mqttQoS:               fs.Int("mqtt-qos", -1, "MQTT QoS for the initial subscription (0, 1, or 2)"),
		mqttAutoResubscribe:   fs.Bool("mqtt-auto-resubscribe", false, "Resubscribe initial topics after reconnection"),
		mqttConnectTimeout:    fs.Duration("mqtt-connect-timeout", 0, "MQTT connect timeout"),
		mqttWriteTimeout:      fs.Duration("mqtt-write-timeout", 0, "MQTT publish timeout"),
		mqttSubscribeTimeout:  fs.Duration("mqtt-subscribe-timeout", 0, "MQTT subscribe timeout"),
		mqttDisconnectQuiesce: fs.Int("mqtt-disconnect-quiesce", 0, "MQTT disconnect quiesce (ms)"),
		mqttKeepAlive:         fs.Duration("mqtt-keep-alive", 0, "MQTT keep alive"),
		mqttPingTimeout:       fs.Duration("mqtt-ping-timeout", 0, "MQTT ping timeout"),
		mqttMaxReconnect:      fs.Duration("mqtt-max-reconnect-interval", 0, "MQTT max reconnect interval"),
		mqttAutoReconnect:     fs.Bool("mqtt-auto-reconnect", true, "Let the transport reconnect automatically"),
		mqttCleanSession:      fs.Bool("mqtt-clean-session", true, "Request a clean MQTT session"),
		mqttTLSEnabled:        fs.Bool("mqtt-tls-enabled", false, "Enable MQTT TLS"),
		mqttCACert:            fs.String("mqtt-ca-cert", "", "MQTT CA certificate path"),
		mqttClientCert:        fs.String("mqtt-client-cert", "", "MQTT client certificate path"),
		mqttClientKey:         fs.String("mqtt-client-key", "", "MQTT client key path"),
		mqttTLSInsecureSkip:   fs.Bool("mqtt-tls-insecure-skip", false, "Skip MQTT TLS verification"),

		redisEnabled:       fs.Bool("redis-enabled", false, "Relay commands and events through Redis"),
		redisAddress:       fs.String("redis-address", "", "Redis address"),
		redisCommandStream: fs.String("redis-command-stream", "", "Redis stream carrying commands"),
		redisGroup:         fs.String("redis-group", "", "Redis consumer group for the command stream"),
		redisConsumer:      fs.String("redis-consumer", "", "Redis consumer name"),
		redisBatchSize:     fs.Int("redis-batch-size", 0, "Redis batch size"),
		redisEventBuffer:   fs.Int("redis-event-buffer", 0, "Events buffered for Redis publishing"),
		redisBlockTimeout:  fs.Duration("redis-block-timeout", 0, "Redis block timeout"),
		redisErrorBackoff:  fs.Duration("redis-error-backoff", 0, "Backoff after a Redis read error"),
		redisClaimIdle:     fs.Duration("redis-claim-idle", 0, "Idle time before pending commands of another consumer are claimed"),
		redisDialTimeout:   fs.Duration("redis-dial-timeout", 0, "Redis dial timeout"),
		redisReadTimeout:   fs.Duration("redis-read-timeout", 0, "Redis read timeout"),
		redisWriteTimeout:  fs.Duration("redis-write-timeout", 0, "Redis write timeout"),
		redisPingTimeout:   fs.Duration("redis-ping-timeout", 0, "Redis ping timeout"),
	}
}

// applySessionFlags applies command line flags to session configuration
func applySessionFlags(cfg *SessionConfig) {
	if *cliFlags.namespace != "" {
		cfg.Namespace = *cliFlags.namespace
	}
	if *cliFlags.logLevel != "" {
		cfg.LogLevel = *cliFlags.logLevel
	}
	if *cliFlags.shutdownTimeout != 0 {
		cfg.ShutdownTimeout = *cliFlags.shutdownTimeout
	}
}

// applyMQTTFlags applies command line flags to MQTT configuration
func applyMQTTFlags(cfg *MQTTConfig) {
	applyMQTTFlagStrings(cfg)
	applyMQTTFlagInts(cfg)
	applyMQTTFlagTimeouts(cfg)
	applyMQTTFlagTLS(cfg)
	applyMQTTFlagBools(cfg)
}

func applyMQTTFlagStrings(cfg *MQTTConfig) {
	if *cliFlags.mqttBroker != "" {
		cfg.Broker = *cliFlags.mqttBroker
	}
	if *cliFlags.mqttClientID != "" {
		cfg.ClientID = *cliFlags.mqttClientID
	}
	if *cliFlags.mqttUsername != "" {
		cfg.Username = *cliFlags.mqttUsername
	}
	if *cliFlags.mqttPassword != "" {
		cfg.Password = *cliFlags.mqttPassword
	}
	if *cliFlags.mqttTopics != "" {
		cfg.Topics = splitList(*cliFlags.mqttTopics)
	}
}

func applyMQTTFlagInts(cfg *MQTTConfig) {
	if *cliFlags.mqttQoS >= 0 && *cliFlags.mqttQoS <= 2 {
		cfg.QoS = byte(*cliFlags.mqttQoS) // #nosec G115 - validated range 0-2
	}
	if *cliFlags.mqttDisconnectQuiesce > 0 {
		cfg.DisconnectQuiesce = uint(*cliFlags.mqttDisconnectQuiesce) // #nosec G115 - checked positive
	}
}

func applyMQTTFlagTimeouts(cfg *MQTTConfig) {
	if *cliFlags.mqttConnectTimeout != 0 {
		cfg.ConnectTimeout = *cliFlags.mqttConnectTimeout
	}
	if *cliFlags.mqttWriteTimeout != 0 {
		cfg.WriteTimeout = *cliFlags.mqttWriteTimeout
	}
	if *cliFlags.mqttSubscribeTimeout != 0 {
		cfg.SubscribeTimeout = *cliFlags.mqttSubscribeTimeout
	}
	if *cliFlags.mqttKeepAlive != 0 {
		cfg.KeepAlive = *cliFlags.mqttKeepAlive
	}
	if *cliFlags.mqttPingTimeout != 0 {
		cfg.PingTimeout = *cliFlags.mqttPingTimeout
	}
	if *cliFlags.mqttMaxReconnect != 0 {
		cfg.MaxReconnectInterval = *cliFlags.mqttMaxReconnect
	}
}

func applyMQTTFlagTLS(cfg *MQTTConfig) {
	if *cliFlags.mqttCACert != "" {
		cfg.CACert = *cliFlags.mqttCACert
	}
	if *cliFlags.mqttClientCert != "" {
		cfg.ClientCert = *cliFlags.mqttClientCert
	}
	if *cliFlags.mqttClientKey != "" {
		cfg.ClientKey = *cliFlags.mqttClientKey
	}
}

func applyMQTTFlagBools(cfg *MQTTConfig) {
	// Handle bool flags - check if explicitly set
	if isFlagSet("mqtt-auto-resubscribe") {
		cfg.AutoResubscribe = *cliFlags.mqttAutoResubscribe
	}
	if isFlagSet("mqtt-auto-reconnect") {
		cfg.AutoReconnect = *cliFlags.mqttAutoReconnect
	}
	if isFlagSet("mqtt-clean-session") {
		cfg.CleanSession = *cliFlags.mqttCleanSession
	}
	if isFlagSet("mqtt-tls-enabled") {
		cfg.TLSEnabled = *cliFlags.mqttTLSEnabled
	}
	if isFlagSet("mqtt-tls-insecure-skip") {
		cfg.InsecureSkip = *cliFlags.mqttTLSInsecureSkip
	}
}

// applyRedisFlags applies command line flags to Redis configuration
func applyRedisFlags(cfg *RedisConfig) {
	if isFlagSet("redis-enabled") {
		cfg.Enabled = *cliFlags.redisEnabled
	}
	if *cliFlags.redisAddress != "" {
		cfg.Address = *cliFlags.redisAddress
	}
	if *cliFlags.redisCommandStream != "" {
		cfg.CommandStream = *cliFlags.redisCommandStream
	}
	if *cliFlags.redisGroup != "" {
		cfg.Group = *cliFlags.redisGroup
	}
	if *cliFlags.redisConsumer != "" {
		cfg.Consumer = *cliFlags.redisConsumer
	}
	if *cliFlags.redisBatchSize != 0 {
		cfg.BatchSize = *cliFlags.redisBatchSize
	}
	if *cliFlags.redisEventBuffer != 0 {
		cfg.EventBuffer = *cliFlags.redisEventBuffer
	}
	applyRedisFlagTimeouts(cfg)
}

func applyRedisFlagTimeouts(cfg *RedisConfig) {
	if *cliFlags.redisBlockTimeout != 0 {
		cfg.BlockTimeout = *cliFlags.redisBlockTimeout
	}
	if *cliFlags.redisErrorBackoff != 0 {
		cfg.ErrorBackoff = *cliFlags.redisErrorBackoff
	}
	if *cliFlags.redisClaimIdle != 0 {
		cfg.ClaimIdle = *cliFlags.redisClaimIdle
	}
	if *cliFlags.redisDialTimeout != 0 {
		cfg.DialTimeout = *cliFlags.redisDialTimeout
	}
	if *cliFlags.redisReadTimeout != 0 {
		cfg.ReadTimeout = *cliFlags.redisReadTimeout
	}
	if *cliFlags.redisWriteTimeout != 0 {
		cfg.WriteTimeout = *cliFlags.redisWriteTimeout
	}
	if *cliFlags.redisPingTimeout != 0 {
		cfg.PingTimeout = *cliFlags.redisPingTimeout
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
