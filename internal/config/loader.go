package config

import (
	"flag"
	"fmt"
)

// Load loads configuration with precedence:
// defaults → YAML file → environment variables → command line flags.
// It performs runtime derivations and validation before returning.
func Load() (*Config, error) {
	// Parse command line flags if not already parsed
	if !flag.Parsed() {
		flag.Parse()
	}

	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Apply the optional configuration file
	if path := configFilePath(); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Step 3: Apply environment variables
	loadSessionFromEnv(&cfg.Session)
	loadMQTTFromEnv(&cfg.MQTT)
	loadRedisFromEnv(&cfg.Redis)

	// Step 4: Apply command line flags (highest precedence)
	applySessionFlags(&cfg.Session)
	applyMQTTFlags(&cfg.MQTT)
	applyRedisFlags(&cfg.Redis)

	// Step 5: Derive values that depend on other settings
	if err := applyRuntimeValidation(cfg); err != nil {
		return nil, err
	}

	// Step 6: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// configFilePath returns the file named by -config or MQTTSESSION_CONFIG.
func configFilePath() string {
	if cliFlags.configFile != nil && *cliFlags.configFile != "" {
		return *cliFlags.configFile
	}
	return getEnvString("MQTTSESSION_CONFIG")
}
