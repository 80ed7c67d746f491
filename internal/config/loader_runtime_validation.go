package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/ibs-source/mqtt-session/internal/message"
)

// applyRuntimeValidation derives values that depend on other settings
func applyRuntimeValidation(cfg *Config) error {
	cfg.Session.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.Session.LogLevel))

	if err := applyClientIDFromCert(&cfg.MQTT); err != nil {
		return err
	}
	applyRedisNames(cfg)
	return nil
}

// applyClientIDFromCert uses the client certificate CN as the MQTT client ID
// when an initial connection is configured without one.
func applyClientIDFromCert(cfg *MQTTConfig) error {
	if cfg.Broker == "" || cfg.ClientID != "" || cfg.ClientCert == "" {
		return nil
	}
	cn, err := extractCNFromCertFile(cfg.ClientCert)
	if err != nil {
		return fmt.Errorf("failed to extract CN from certificate: %w", err)
	}
	cfg.ClientID = cn
	return nil
}

// applyRedisNames fills the command stream, group and consumer names
func applyRedisNames(cfg *Config) {
	r := &cfg.Redis
	if r.CommandStream == "" {
		r.CommandStream = message.CommandChannel(cfg.Session.Namespace)
	}
	if r.Group == "" {
		r.Group = "group-" + r.CommandStream
	}
	if r.Consumer == "" {
		r.Consumer = defaultConsumerName()
	}
}

// defaultConsumerName builds a per-process consumer name from host and pid
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mqttsession"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// extractCNFromCertFile extracts the CN from a PEM certificate file
func extractCNFromCertFile(certPath string) (string, error) {
	certPEM, err := os.ReadFile(certPath) // #nosec G304 - certPath is from config, not user input
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM certificate")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	if cert.Subject.CommonName == "" {
		return "", fmt.Errorf("certificate has no CN")
	}

	return cert.Subject.CommonName, nil
}
