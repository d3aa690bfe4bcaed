// Package cache 提供检索结果缓存：本地 LRU + 可选 Redis 两级结构。
// 写入对单 key 原子，容忍并发读写；命中跳过 embedding 与搜索。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存未命中。
var ErrCacheMiss = errors.New("cache miss")

// Config 缓存配置。
type Config struct {
	LocalMaxSize int           `json:"local_max_size" yaml:"local_max_size"` // 本地缓存最大条目数
	TTL          time.Duration `json:"ttl" yaml:"ttl"`                       // 条目存活时间
	EnableRedis  bool          `json:"enable_redis" yaml:"enable_redis"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultConfig 默认配置：1 小时 TTL，1000 条本地容量。
func DefaultConfig() Config {
	return Config{
		LocalMaxSize: 1000,
		TTL:          time.Hour,
		KeyPrefix:    "chunks:",
	}
}

// ChunkCache 检索结果缓存。本地层总是存在，Redis 层可选；
// 读路径先本地后 Redis，Redis 命中时回填本地层。
type ChunkCache struct {
	local  *lru.LRU[string, []byte]
	rdb    *redis.Client
	config Config
	logger *zap.Logger
}

// New 创建缓存。rdb 为 nil 或 EnableRedis 为假时只用本地层。
func New(rdb *redis.Client, config Config, logger *zap.Logger) *ChunkCache {
	if config.LocalMaxSize == 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rdb == nil {
		config.EnableRedis = false
	}
	return &ChunkCache{
		local:  lru.NewLRU[string, []byte](config.LocalMaxSize, nil, config.TTL),
		rdb:    rdb,
		config: config,
		logger: logger,
	}
}

// Key 生成检索缓存键：(document_id|"all", query) 的哈希。
func Key(documentID, query string) string {
	if documentID == "" {
		documentID = "all"
	}
	sum := sha256.Sum256([]byte(documentID + "\x00" + query))
	return hex.EncodeToString(sum[:16])
}

// GetJSON 读取并反序列化缓存值，未命中返回 ErrCacheMiss。
func (c *ChunkCache) GetJSON(ctx context.Context, key string, out any) error {
	if payload, ok := c.local.Get(key); ok {
		return json.Unmarshal(payload, out)
	}

	if c.config.EnableRedis {
		payload, err := c.rdb.Get(ctx, c.config.KeyPrefix+key).Bytes()
		if err == nil {
			c.local.Add(key, payload)
			return json.Unmarshal(payload, out)
		}
		if !errors.Is(err, redis.Nil) {
			// Redis 故障按未命中处理，不阻断检索
			c.logger.Warn("cache redis get failed", zap.Error(err))
		}
	}
	return ErrCacheMiss
}

// SetJSON 序列化并写入缓存。单 key 写入是原子的。
func (c *ChunkCache) SetJSON(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.local.Add(key, payload)
	if c.config.EnableRedis {
		if err := c.rdb.Set(ctx, c.config.KeyPrefix+key, payload, c.config.TTL).Err(); err != nil {
			c.logger.Warn("cache redis set failed", zap.Error(err))
		}
	}
	return nil
}

// Purge 清空本地层，测试用。
func (c *ChunkCache) Purge() {
	c.local.Purge()
}
