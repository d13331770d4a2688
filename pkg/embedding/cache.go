package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"doctalk-go/pkg/log"
	"doctalk-go/pkg/metrics"
)

// Cache 是 embedding 缓存所需的最小 KV 接口。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache 用 Redis 实现 Cache。
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache 创建一个基于 Redis 的缓存。
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Get 返回键对应的值；键不存在时 ok 为 false 且不返回错误。
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set 写入键值并设置过期时间。
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

type cachedClient struct {
	inner Client
	cache Cache
	ttl   time.Duration
}

// NewCachedClient 在底层客户端外加一层按文本哈希键的读穿缓存。
// 相同文本的向量是确定性的，缓存只是省去重复的上游调用；
// 缓存本身故障不影响主链路，只记日志。
func NewCachedClient(inner Client, cache Cache, ttl time.Duration) Client {
	return &cachedClient{inner: inner, cache: cache, ttl: ttl}
}

func (c *cachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warnf("[EmbeddingCache] 读取缓存失败: %v", err)
	} else if ok {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err == nil {
			metrics.EmbeddingCacheHits.Inc()
			return vec, nil
		}
		log.Warnf("[EmbeddingCache] 缓存内容损坏，按未命中处理, key: %s", key)
	}
	metrics.EmbeddingCacheMisses.Inc()

	vec, err := c.inner.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if buf, err := json.Marshal(vec); err == nil {
		if err := c.cache.Set(ctx, key, string(buf), c.ttl); err != nil {
			log.Warnf("[EmbeddingCache] 写入缓存失败: %v", err)
		}
	}
	return vec, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + hex.EncodeToString(sum[:])
}
