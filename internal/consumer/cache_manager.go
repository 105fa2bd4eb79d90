package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
)

// KV 实时缓存的最小键值接口（便于测试替身）
type KV interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// ErrCacheMiss 键不存在
var ErrCacheMiss = fmt.Errorf("cache miss")

// redisKV 基于 Redis 的 KV 实现
type redisKV struct {
	client *redis.Client
}

// NewRedisKV 包装 Redis 客户端为 KV
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

func (r *redisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// CacheManager 每通道最新采样点的实时缓存
// 键形如 telemetry:channel:<channel>:latest，带 TTL；
// 断流后旧值自动过期，避免状态面拿到陈旧读数
type CacheManager struct {
	kv        KV
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(kv KV, keyPrefix string, ttl time.Duration, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// UpdateLatest 写入通道最新采样点
func (m *CacheManager) UpdateLatest(ctx context.Context, channel string, sample models.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}
	key := m.key(channel)
	if err := m.kv.Set(ctx, key, string(data), m.ttl); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Latest 读取通道最新采样点；缓存未命中返回 (zero, false, nil)
func (m *CacheManager) Latest(ctx context.Context, channel string) (models.Sample, bool, error) {
	val, err := m.kv.Get(ctx, m.key(channel))
	if err == ErrCacheMiss {
		return models.Sample{}, false, nil
	}
	if err != nil {
		return models.Sample{}, false, fmt.Errorf("failed to get cache key: %w", err)
	}

	var sample models.Sample
	if err := json.Unmarshal([]byte(val), &sample); err != nil {
		return models.Sample{}, false, fmt.Errorf("failed to unmarshal cached sample: %w", err)
	}
	return sample, true, nil
}

func (m *CacheManager) key(channel string) string {
	return m.keyPrefix + channel + ":latest"
}
