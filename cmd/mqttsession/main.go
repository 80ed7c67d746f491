// Package main starts the MQTT session host.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/mqtt"
	"github.com/ibs-source/mqtt-session/internal/redis"
	"github.com/ibs-source/mqtt-session/internal/service"
)

func run() int {
	logger := log.New(log.LevelInfo)
	logger.Info("Starting MQTT session host")

	cfg, err := loadAndLogConfig(logger)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}

	redisClient, svc, err := initializeServices(cfg, logger)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	defer closeServices(redisClient, logger)

	return runMainLoop(svc, logger)
}

func loadAndLogConfig(logger *log.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Session.LogLevel)

	logger.Info("Configuration loaded successfully")
	logger.Info("Namespace: %s, log level: %s", cfg.Session.Namespace, logger.Level())
	if cfg.MQTT.Broker != "" {
		logger.Info("MQTT: %s as %s, topics: %v", cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topics)
	}
	if cfg.Redis.Enabled {
		logger.Info("Redis: %s, command stream: %s (group %s)", cfg.Redis.Address, cfg.Redis.CommandStream, cfg.Redis.Group)
	}
	return cfg, nil
}

func initializeServices(cfg *config.Config, logger *log.Logger) (*redis.Client, *service.Service, error) {
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		logger.Info("Connected to Redis")
	}

	transport := mqtt.NewTransport(&cfg.MQTT, logger)
	return redisClient, service.New(cfg, transport, redisClient, logger), nil
}

func closeServices(redisClient *redis.Client, logger *log.Logger) {
	if redisClient == nil {
		return
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("Error closing Redis client: %v", err)
	}
}

func runMainLoop(svc *service.Service, logger *log.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Session host error: %v", err)
		return 1
	}

	logger.Info("Graceful shutdown completed")
	return 0
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run())
}
