package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/pkg/config"
)

const defaultPrefix = "chicify"

// Client wraps the Redis connection shared by the signal publisher, the
// relay and the distributed pair lock.
type Client struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// New creates a new Redis client. It returns nil, nil when Redis is disabled.
func New(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		logger.Info("Redis disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("prefix", cfg.Prefix))

	return &Client{
		client: client,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// namespaceKey prefixes key with the configured namespace
func (c *Client) namespaceKey(key string) string {
	prefix := c.prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return prefix + ":" + key
}

// HashKey returns the hex MD5 of parts joined by ':'
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Client) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when Redis operations are attempted but Redis is disabled
	ErrCacheDisabled = fmt.Errorf("redis is disabled")
)
