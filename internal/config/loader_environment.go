package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// loadSessionFromEnv loads session configuration from environment variables
func loadSessionFromEnv(cfg *SessionConfig) {
	if v := getEnvString("MQTTSESSION_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := getEnvString("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnvDuration("SESSION_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
}

// loadMQTTFromEnv loads MQTT configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTInts(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTTLS(cfg)
	loadMQTTBools(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := getEnvString("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getEnvString("MQTT_TOPICS"); v != "" {
		cfg.Topics = splitList(v)
	}
}

func loadMQTTInts(cfg *MQTTConfig) {
	if v, ok := lookupEnvInt("MQTT_QOS"); ok && v >= 0 && v <= 2 {
		cfg.QoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v := getEnvInt("MQTT_DISCONNECT_QUIESCE"); v > 0 {
		cfg.DisconnectQuiesce = uint(v) // #nosec G115 - checked positive
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("MQTT_SUBSCRIBE_TIMEOUT"); v != 0 {
		cfg.SubscribeTimeout = v
	}
	if v := getEnvDuration("MQTT_KEEP_ALIVE"); v != 0 {
		cfg.KeepAlive = v
	}
	if v := getEnvDuration("MQTT_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
	if v := getEnvDuration("MQTT_MAX_RECONNECT_INTERVAL"); v != 0 {
		cfg.MaxReconnectInterval = v
	}
}

func loadMQTTTLS(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
}

func loadMQTTBools(cfg *MQTTConfig) {
	if v, ok := lookupEnvBool("MQTT_AUTO_RESUBSCRIBE"); ok {
		cfg.AutoResubscribe = v
	}
	if v, ok := lookupEnvBool("MQTT_AUTO_RECONNECT"); ok {
		cfg.AutoReconnect = v
	}
	if v, ok := lookupEnvBool("MQTT_CLEAN_SESSION"); ok {
		cfg.CleanSession = v
	}
	if v, ok := lookupEnvBool("MQTT_TLS_ENABLED"); ok {
		cfg.TLSEnabled = v
	}
	if v, ok := lookupEnvBool("MQTT_TLS_INSECURE_SKIP"); ok {
		cfg.InsecureSkip = v
	}
}

// loadRedisFromEnv loads Redis relay configuration from environment variables
func loadRedisFromEnv(cfg *RedisConfig) {
	loadRedisStrings(cfg)
	loadRedisTimeouts(cfg)

	if v, ok := lookupEnvBool("REDIS_ENABLED"); ok {
		cfg.Enabled = v
	}
	if v := getEnvInt("REDIS_BATCH_SIZE"); v != 0 {
		cfg.BatchSize = v
	}
	if v := getEnvInt("REDIS_EVENT_BUFFER"); v != 0 {
		cfg.EventBuffer = v
	}
}

func loadRedisStrings(cfg *RedisConfig) {
	if v := getEnvString("REDIS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvString("REDIS_COMMAND_STREAM"); v != "" {
		cfg.CommandStream = v
	}
	if v := getEnvString("REDIS_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := getEnvString("REDIS_CONSUMER"); v != "" {
		cfg.Consumer = v
	}
}

func loadRedisTimeouts(cfg *RedisConfig) {
	if v := getEnvDuration("REDIS_BLOCK_TIMEOUT"); v != 0 {
		cfg.BlockTimeout = v
	}
	if v := getEnvDuration("REDIS_ERROR_BACKOFF"); v != 0 {
		cfg.ErrorBackoff = v
	}
	if v := getEnvDuration("REDIS_CLAIM_IDLE"); v != 0 {
		cfg.ClaimIdle = v
	}
	if v := getEnvDuration("REDIS_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("REDIS_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("REDIS_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("REDIS_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
}

// Helper functions for reading environment variables
func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) int {
	v, _ := lookupEnvInt(key)
	return v
}

func lookupEnvInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return intValue, true
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

// lookupEnvBool distinguishes "unset" from "false" so that settings whose
// default is true can be turned off from the environment.
func lookupEnvBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return b, true
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
