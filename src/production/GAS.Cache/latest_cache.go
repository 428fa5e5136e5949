// Package cache keeps the most recent reading of every device in Redis so the
// latest-value endpoint does not have to scan the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
)

const keyPrefix = "gas:latest:"

// Each device key is a hash of the reading's timestamp in epoch ms ("ts")
// and its JSON ("reading").
const fieldReading = "reading"

// putIfNotOlder replaces the cached reading unless the cached one has a later
// timestamp. ARGV: timestamp ms, reading JSON, ttl ms (0 keeps no expiry).
var putIfNotOlder = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'reading', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// redisClient is the subset of *redis.Client the cache needs.
type redisClient interface {
	redis.Scripter
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type RedisLatestCache struct {
	client redisClient
	ttl    time.Duration
}

// NewRedisLatestCache connects to Redis and verifies the connection.
func NewRedisLatestCache(ctx context.Context, cfg config.CacheConfig) (*RedisLatestCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.Addr, err)
	}
	return newLatestCache(rdb, cfg.TTL), nil
}

func newLatestCache(client redisClient, ttl time.Duration) *RedisLatestCache {
	return &RedisLatestCache{client: client, ttl: ttl}
}

func latestKey(deviceID string) string {
	return keyPrefix + deviceID
}

// PutLatest caches reading as its device's latest unless the cached reading
// has a later timestamp, matching the store's newest-first order. A reading
// without a timestamp is ordered by ReceivedAt.
func (c *RedisLatestCache) PutLatest(ctx context.Context, reading gasmodels.SensorReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode latest reading: %w", err)
	}

	ts := reading.ReceivedAt
	if reading.Timestamp != nil {
		ts = *reading.Timestamp
	}
	args := []interface{}{
		strconv.FormatInt(ts.UnixMilli(), 10),
		data,
		strconv.FormatInt(c.ttl.Milliseconds(), 10),
	}
	if err := putIfNotOlder.Run(ctx, c.client, []string{latestKey(reading.DeviceID)}, args...).Err(); err != nil {
		return fmt.Errorf("update latest reading for %s: %w", reading.DeviceID, err)
	}
	return nil
}

// GetLatest returns nil without error when the device has no cached reading.
func (c *RedisLatestCache) GetLatest(ctx context.Context, deviceID string) (*gasmodels.SensorReading, error) {
	data, err := c.client.HGet(ctx, latestKey(deviceID), fieldReading).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest reading for %s: %w", deviceID, err)
	}

	var reading gasmodels.SensorReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil, fmt.Errorf("decode latest reading for %s: %w", deviceID, err)
	}
	return &reading, nil
}

func (c *RedisLatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisLatestCache) Close() error {
	return c.client.Close()
}
