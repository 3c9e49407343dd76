package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/quantree/pkg/types"
)

// DefaultKeyPrefix namespaces table keys in a shared Redis
const DefaultKeyPrefix = "quantree:table:"

// RedisConfig configures NewRedisCache
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisCache stores gob-encoded aligned tables in Redis. Lookups that fail
// for any reason count as misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *logrus.Entry
}

// NewRedisCache connects and pings Redis
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logrus.WithField("component", "redis-cache"),
	}
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetTable implements marketdata.TableCache
func (c *RedisCache) GetTable(ctx context.Context, key string) (*types.PriceTable, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warnf("Failed to read %s: %v", key, err)
		}
		return nil, false
	}
	table, err := decodeTable(data)
	if err != nil {
		c.logger.Warnf("Dropping undecodable entry %s: %v", key, err)
		c.client.Del(ctx, c.prefix+key)
		return nil, false
	}
	return table, true
}

// SetTable implements marketdata.TableCache. A zero ttl keeps the entry
// until evicted.
func (c *RedisCache) SetTable(ctx context.Context, key string, table *types.PriceTable, ttl time.Duration) error {
	data, err := encodeTable(table)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store table: %w", err)
	}
	return nil
}

func encodeTable(table *types.PriceTable) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(table); err != nil {
		return nil, fmt.Errorf("failed to encode table: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTable(data []byte) (*types.PriceTable, error) {
	var table types.PriceTable
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if table.Series == nil {
		table.Series = map[string]*types.Series{}
	}
	return &table, nil
}
