// Package redis relays session commands and events between processes. Commands
// travel on a Redis stream read through a consumer group; events are
// published on a pub/sub channel named after the broadcast channel identity.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/log"
)

// Client wraps the Redis connection shared by the relay components
type Client struct {
	rdb *redis.Client
	cfg *config.RedisConfig
	log *log.Logger
}

// NewClient connects to Redis and checks the connection with PING
func NewClient(cfg *config.RedisConfig, logger *log.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, cfg: cfg, log: logger}, nil
}

// ensureGroup creates the consumer group of stream, creating the stream
// too when needed. An existing group is joined.
func (c *Client) ensureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		if isBusyGroup(err) {
			c.log.Info("Consumer group '%s' already exists for stream '%s', joining existing group", group, stream)
			return nil
		}
		return fmt.Errorf("failed to create consumer group for stream %s: %w", stream, err)
	}
	c.log.Info("Created consumer group '%s' for stream '%s'", group, stream)
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// isNil reports whether err is the empty-reply marker
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
